package service

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zlibBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate writer: %v", err)
	}
	if _, err := fw.Write([]byte(s)); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, s string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll([]byte(s), nil)
}

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestDecodeBody(t *testing.T) {
	const payload = "report body"

	tests := []struct {
		name     string
		encoding string
		data     []byte
	}{
		{"no encoding", "", []byte(payload)},
		{"identity", "identity", []byte(payload)},
		{"gzip", "gzip", gzipBytes(t, payload)},
		{"x-gzip upper case", "X-GZIP", gzipBytes(t, payload)},
		{"zlib deflate", "deflate", zlibBytes(t, payload)},
		{"raw deflate", "deflate", rawDeflateBytes(t, payload)},
		{"zstd", "zstd", zstdBytes(t, payload)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &trackingCloser{Reader: bytes.NewReader(tt.data)}
			rc, err := decodeBody(tt.encoding, src)
			if err != nil {
				t.Fatalf("decodeBody() error = %v", err)
			}
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != payload {
				t.Errorf("decoded = %q, want %q", got, payload)
			}
			_ = rc.Close()
			if !src.closed {
				t.Error("Close() did not close the upstream body")
			}
		})
	}
}

func TestDecodeBody_EmptyCompressedBody(t *testing.T) {
	for _, enc := range []string{"gzip", "deflate"} {
		t.Run(enc, func(t *testing.T) {
			rc, err := decodeBody(enc, io.NopCloser(bytes.NewReader(nil)))
			if err != nil {
				t.Fatalf("decodeBody() error = %v", err)
			}
			got, _ := io.ReadAll(rc)
			if len(got) != 0 {
				t.Errorf("decoded = %q, want empty", got)
			}
		})
	}
}

func TestDecodeBody_Unsupported(t *testing.T) {
	for _, enc := range []string{"br", "compress", "gzip, br"} {
		t.Run(enc, func(t *testing.T) {
			_, err := decodeBody(enc, io.NopCloser(bytes.NewReader([]byte("x"))))
			if !errors.Is(err, ErrUnsupportedEncoding) {
				t.Errorf("decodeBody(%q) error = %v, want ErrUnsupportedEncoding", enc, err)
			}
		})
	}
}

func TestNarrowAcceptEncoding(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"all supported", []string{"gzip, deflate"}, "gzip, deflate"},
		{"brotli dropped", []string{"gzip, deflate, br"}, "gzip, deflate"},
		{"q values kept", []string{"zstd;q=1.0, gzip;q=0.8, br;q=0.9"}, "zstd;q=1.0, gzip;q=0.8"},
		{"multiple header values", []string{"br", "GZIP"}, "GZIP"},
		{"nothing supported", []string{"br, compress"}, "identity"},
		{"wildcard dropped", []string{"*"}, "identity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := narrowAcceptEncoding(tt.in); got != tt.want {
				t.Errorf("narrowAcceptEncoding(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
