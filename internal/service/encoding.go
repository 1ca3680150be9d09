package service

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodableCodings are the content codings decodeBody understands.
var decodableCodings = map[string]bool{
	"gzip":     true,
	"x-gzip":   true,
	"deflate":  true,
	"zstd":     true,
	"identity": true,
}

// narrowAcceptEncoding keeps only the codings the forwarder can decode,
// preserving their order and q-values. When nothing survives the result
// is "identity".
func narrowAcceptEncoding(vals []string) string {
	var kept []string
	for _, v := range vals {
		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			coding, _, _ := strings.Cut(item, ";")
			if decodableCodings[strings.ToLower(strings.TrimSpace(coding))] {
				kept = append(kept, item)
			}
		}
	}
	if len(kept) == 0 {
		return "identity"
	}
	return strings.Join(kept, ", ")
}

type decodedBody struct {
	io.Reader
	close func() error
}

func (d *decodedBody) Close() error { return d.close() }

// decodeBody wraps body so that it yields the identity representation.
// Closing the result closes body.
func decodeBody(contentEncoding string, body io.ReadCloser) (io.ReadCloser, error) {
	coding := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch coding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		br := bufio.NewReader(body)
		if empty(br) {
			return &decodedBody{Reader: br, close: body.Close}, nil
		}
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("decode gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, close: func() error {
			_ = zr.Close()
			return body.Close()
		}}, nil
	case "deflate":
		br := bufio.NewReader(body)
		if empty(br) {
			return &decodedBody{Reader: br, close: body.Close}, nil
		}
		// RFC 9110 deflate is zlib-wrapped, but some servers send raw DEFLATE.
		if hdr, err := br.Peek(2); err == nil && isZlibHeader(hdr) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("decode deflate body: %w", err)
			}
			return &decodedBody{Reader: zr, close: func() error {
				_ = zr.Close()
				return body.Close()
			}}, nil
		}
		fr := flate.NewReader(br)
		return &decodedBody{Reader: fr, close: func() error {
			_ = fr.Close()
			return body.Close()
		}}, nil
	case "zstd":
		zd, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("decode zstd body: %w", err)
		}
		return &decodedBody{Reader: zd, close: func() error {
			zd.Close()
			return body.Close()
		}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, contentEncoding)
	}
}

func empty(br *bufio.Reader) bool {
	_, err := br.Peek(1)
	return err == io.EOF
}

func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}
