package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"rise-gateway/internal/apiclient"
	"rise-gateway/internal/sessionstore"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cli struct {
	APIBase     string           `help:"Backend or gateway base URL." env:"RISE_API_BASE" default:"http://localhost:8000/api/proxy" name:"api-base"`
	SessionFile string           `help:"Session file path." env:"RISE_SESSION_FILE" type:"path" name:"session-file"`
	Timeout     time.Duration    `help:"Per-request timeout." default:"30s"`
	LogLevel    string           `help:"Log level (debug, info, warn, error)." default:"warn" enum:"debug,info,warn,error"`
	Version     kong.VersionFlag `help:"Print version and exit."`

	Login    loginCmd    `cmd:"" help:"Log in and store the session."`
	Logout   logoutCmd   `cmd:"" help:"Log out and forget the session."`
	Me       meCmd       `cmd:"" help:"Show the current user."`
	Register registerCmd `cmd:"" help:"Create an account and store the session."`
	Scouts   scoutsCmd   `cmd:"" help:"Manage scouts."`
	Reports  reportsCmd  `cmd:"" help:"Manage reports."`
}

// app is the state shared by every command.
type app struct {
	ctx    context.Context
	client *apiclient.Client
	store  *sessionstore.Store
	path   string
	base   string
	logger *slog.Logger
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("rise-cli"),
		kong.Description("Command-line client for the Rise API."),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	logger := newLogger(c.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, &c, logger)
	kctx.FatalIfErrorf(err)

	runErr := kctx.Run(a)
	if err := a.persist(); err != nil {
		logger.Error("failed to save session", "path", a.path, "err", err)
	}
	kctx.FatalIfErrorf(runErr)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func newApp(ctx context.Context, c *cli, logger *slog.Logger) (*app, error) {
	path := c.SessionFile
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locate config dir: %w", err)
		}
		path = filepath.Join(dir, "rise", "session.toml")
	}

	store, err := sessionstore.Load(path)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(c.APIBase, "/")
	session, err := store.Session(base)
	if err != nil {
		return nil, err
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:   base,
		Timeout:   c.Timeout,
		UserAgent: "rise-cli/" + version,
	}, session, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		ctx:    ctx,
		client: client,
		store:  store,
		path:   path,
		base:   base,
		logger: logger,
	}, nil
}

// persist writes the current session back unless logout already removed it.
func (a *app) persist() error {
	if a.client == nil {
		return a.store.Save(a.path)
	}
	a.store.Put(a.base, a.client.Session())
	return a.store.Save(a.path)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type loginCmd struct {
	Username string `arg:"" help:"Account name."`
	Password string `help:"Password." env:"RISE_PASSWORD" required:""`
}

func (cmd *loginCmd) Run(a *app) error {
	resp, err := a.client.Login(a.ctx, cmd.Username, cmd.Password)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type logoutCmd struct{}

func (cmd *logoutCmd) Run(a *app) error {
	if err := a.client.Logout(a.ctx); err != nil {
		return err
	}
	a.store.Delete(a.base)
	a.client = nil
	a.logger.Info("session removed", "base_url", a.base)
	return nil
}

type meCmd struct{}

func (cmd *meCmd) Run(a *app) error {
	user, err := a.client.Me(a.ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return errors.New("not logged in")
	}
	return printJSON(user)
}

type registerCmd struct {
	Username string `arg:"" help:"Account name."`
	Password string `help:"Password." env:"RISE_PASSWORD" required:""`
}

func (cmd *registerCmd) Run(a *app) error {
	resp, err := a.client.Register(a.ctx, cmd.Username, cmd.Password)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type pageFlags struct {
	Limit  int `help:"Page size." default:"20"`
	Offset int `help:"Items to skip." default:"0"`
}

type scoutsCmd struct {
	Create scoutsCreateCmd `cmd:"" help:"Start a scout from a prompt."`
	Get    scoutsGetCmd    `cmd:"" help:"Show a scout and its results."`
	List   scoutsListCmd   `cmd:"" help:"List scouts."`
}

type scoutsCreateCmd struct {
	Prompt []string `arg:"" help:"Free-text prompt."`
}

func (cmd *scoutsCreateCmd) Run(a *app) error {
	scout, err := a.client.CreateScout(a.ctx, strings.Join(cmd.Prompt, " "))
	if err != nil {
		return err
	}
	return printJSON(scout)
}

type scoutsGetCmd struct {
	ID string `arg:"" help:"Scout ID."`
}

func (cmd *scoutsGetCmd) Run(a *app) error {
	scout, err := a.client.GetScout(a.ctx, cmd.ID)
	if err != nil {
		return err
	}
	return printJSON(scout)
}

type scoutsListCmd struct {
	pageFlags
}

func (cmd *scoutsListCmd) Run(a *app) error {
	scouts, err := a.client.ListScouts(a.ctx, cmd.Limit, cmd.Offset)
	if err != nil {
		return err
	}
	return printJSON(scouts)
}

type reportsCmd struct {
	Create   reportsCreateCmd   `cmd:"" help:"Generate a report for a scout."`
	List     reportsListCmd     `cmd:"" help:"List reports."`
	Download reportsDownloadCmd `cmd:"" help:"Download a report as PDF."`
}

type reportsCreateCmd struct {
	ScoutID string `arg:"" help:"Scout ID."`
}

func (cmd *reportsCreateCmd) Run(a *app) error {
	report, err := a.client.CreateReport(a.ctx, cmd.ScoutID)
	if err != nil {
		return err
	}
	return printJSON(report)
}

type reportsListCmd struct {
	pageFlags
}

func (cmd *reportsListCmd) Run(a *app) error {
	reports, err := a.client.ListReports(a.ctx, cmd.Limit, cmd.Offset)
	if err != nil {
		return err
	}
	return printJSON(reports)
}

type reportsDownloadCmd struct {
	ID     string `arg:"" help:"Report ID."`
	Output string `short:"o" help:"Output file; defaults to report-<id>.pdf." type:"path"`
}

func (cmd *reportsDownloadCmd) Run(a *app) error {
	pdf, err := a.client.DownloadReportPDF(a.ctx, cmd.ID)
	if err != nil {
		return err
	}
	out := cmd.Output
	if out == "" {
		out = "report-" + cmd.ID + ".pdf"
	}
	if err := os.WriteFile(out, pdf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	a.logger.Info("report saved", "path", out, "bytes", len(pdf))
	return nil
}
