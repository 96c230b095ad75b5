// Package app wires configuration, the platform API client, the clone
// orchestrator and the history database together for the command line.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"siteclone/apiclients/platform"
	"siteclone/clone"
	"siteclone/config"
	"siteclone/db"
	"siteclone/internal/prompt"
	"siteclone/internal/token"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

// tokenLeeway is the remaining lifetime below which a cached token is
// replaced before use.
const tokenLeeway = time.Minute

// CloneOptions are the command line settings of a clone run that are not part
// of the clone request itself.
type CloneOptions struct {
	AssumeYes   bool   // answer yes to the version mismatch question
	DownloadDir string // download the located backups here if set
}

// App is the central orchestrator for the application's business logic.
type App struct {
	log         *log.Logger
	in          io.Reader
	out         io.Writer
	interactive bool
}

// New creates and returns a new App. Questions are read from in and results
// written to out. A non-interactive App never waits for an answer.
func New(logger *log.Logger, in io.Reader, out io.Writer, interactive bool) *App {
	return &App{
		log:         logger,
		in:          in,
		out:         out,
		interactive: interactive,
	}
}

// SetVerbose logs debugging information when verbose is set.
func (a *App) SetVerbose(verbose bool) {
	if verbose {
		a.log.SetLevel(log.DebugLevel)
		return
	}
	a.log.SetLevel(log.InfoLevel)
}

// Login obtains a machine token for the configured platform and caches it.
func (a *App) Login(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	ct, err := token.Login(ctx, cfg.Platform.CredentialsConfig, cfg.Platform.BaseURL)
	if err != nil {
		return err
	}
	if err := ct.Save(cfg.Platform.TokenFilePath); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	a.log.Info("Logged in", "platform", cfg.Platform.BaseURL, "expires", ct.Token.Expiry.Format(time.RFC1123))
	return nil
}

// Logout deletes the cached token.
func (a *App) Logout(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	a.log.Info(fmt.Sprintf("Deleting token file at: %s", cfg.Platform.TokenFilePath))
	if err := token.Delete(cfg.Platform.TokenFilePath); err != nil {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// Clone clones the elements of req.Source selected by req onto req.Destination
// and records the run in the history database.
func (a *App) Clone(ctx context.Context, cfgPath string, req clone.Request, opts CloneOptions) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	client, err := a.platformClient(ctx, cfg)
	if err != nil {
		return err
	}

	history, err := a.openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = history.Close()
	}()

	service := &platformService{client: client}
	confirmer := prompt.New(a.in, a.out, opts.AssumeYes, a.interactive)

	options := []clone.Option{
		clone.WithPollPolicy(pollPolicy(cfg)),
		clone.WithParallelBackups(bool(cfg.Backups.Parallel)),
		clone.WithScopedBackups(bool(cfg.Backups.Scoped)),
		clone.WithRecorder(history),
	}
	if opts.DownloadDir != "" {
		dl := &downloader{client: client, source: req.Source, log: a.log}
		options = append(options, clone.WithDownloader(dl, opts.DownloadDir))
	}

	orchestrator := clone.New(service, service, confirmer, a.log, options...)
	res, err := orchestrator.Clone(ctx, req)
	if err != nil {
		return err
	}
	a.printResult(res)
	return nil
}

// Backup creates a whole-environment backup of identifier and waits for it to
// finish.
func (a *App) Backup(ctx context.Context, cfgPath, identifier string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	client, err := a.platformClient(ctx, cfg)
	if err != nil {
		return err
	}
	service := &platformService{client: client}

	env, err := clone.Resolve(ctx, service, identifier)
	if err != nil {
		return err
	}
	coordinator := clone.NewCoordinator(service, pollPolicy(cfg), a.log)
	job, err := coordinator.Create(ctx, env, nil)
	if err != nil {
		return err
	}
	if _, err := coordinator.Await(ctx, job); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "Backup %s of %s finished\n", job.ID, env.Identifier())
	return nil
}

// History prints up to limit recorded clone runs, newest first.
func (a *App) History(ctx context.Context, cfgPath string, limit int) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	history, err := a.openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = history.Close()
	}()

	runs, err := history.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(a.out, "No clone runs recorded.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "SOURCE", "DESTINATION", "ELEMENTS", "STATUS", "BACKUPS", "ERROR")
	for _, r := range runs {
		elements := make([]string, len(r.Elements))
		for i, e := range r.Elements {
			elements[i] = string(e)
		}
		t.Row(
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Source,
			r.Destination,
			strings.Join(elements, ","),
			r.Status,
			strconv.Itoa(r.BackupCount),
			r.Error,
		)
	}
	_, _ = fmt.Fprintln(a.out, t.Render())
	return nil
}

// ExportSQL writes the embedded sql files to dir for editing. The edited copies
// are used when history.sql_dir points to them.
func (a *App) ExportSQL(ctx context.Context, dir string) error {
	sqlMount, err := db.SQLMount("")
	if err != nil {
		return err
	}
	written, err := sqlMount.Export(dir)
	if err != nil {
		return err
	}
	for _, path := range written {
		_, _ = fmt.Fprintln(a.out, path)
	}
	return nil
}

// platformClient returns an authenticated platform client, replacing the
// cached token first if it has expired.
func (a *App) platformClient(ctx context.Context, cfg *config.Config) (*platform.Client, error) {
	pc := cfg.Platform

	ct, err := token.Load(pc.TokenFilePath)
	if err != nil {
		return nil, err
	}
	if ct.BaseURL != "" && ct.BaseURL != pc.BaseURL {
		return nil, fmt.Errorf("cached token was issued for %s, please run 'siteclone login' for %s", ct.BaseURL, pc.BaseURL)
	}

	if !ct.IsValid(tokenLeeway) {
		a.log.Debug("cached token expired or expiring")
		ct.Token.Expiry = time.Now().Add(-time.Second)
	}
	refreshed, err := ct.ReuseOrRefresh(ctx, pc.CredentialsConfig)
	if err != nil {
		return nil, err
	}
	if refreshed {
		a.log.Debug("platform token refreshed")
		if err := ct.Save(pc.TokenFilePath); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
	}

	httpClient := oauth2.NewClient(ctx, ct.TokenSource(ctx, pc.CredentialsConfig))
	return platform.NewClient(pc.BaseURL, httpClient, slog.New(a.log)), nil
}

// openHistory opens the history database using the configured sql files.
func (a *App) openHistory(cfg *config.Config) (*db.DB, error) {
	sqlMount, err := db.SQLMount(cfg.History.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("failed to mount sql files: %w", err)
	}
	a.log.Debug("sql files", "mount", sqlMount.String())
	history, err := db.NewConnection(cfg.History.DatabasePath, sqlMount, slog.New(a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return history, nil
}

// pollPolicy returns the configured backup polling bounds.
func pollPolicy(cfg *config.Config) clone.PollPolicy {
	return clone.PollPolicy{
		InitialInterval: cfg.Polling.InitialInterval,
		MaxInterval:     cfg.Polling.MaxInterval,
		MaxWait:         cfg.Polling.MaxWait,
	}
}

// printResult writes the outcome of a clone run.
func (a *App) printResult(res clone.Result) {
	if res.Aborted {
		_, _ = fmt.Fprintln(a.out, "Clone cancelled, nothing was changed.")
		return
	}
	_, _ = fmt.Fprintf(a.out, "Clone %s: %s to %s\n", res.RunID, res.Source.Identifier(), res.Destination.Identifier())
	if res.Request.SkipBackup {
		_, _ = fmt.Fprintln(a.out, "No backups were created; the latest existing backups will be used.")
	}
	for _, r := range res.Backups {
		_, _ = fmt.Fprintf(a.out, "  %-9s %s  %s\n", r.Element, r.CreatedAt.Local().Format(time.RFC1123), r.DownloadURL)
	}
	for _, path := range res.Downloaded {
		_, _ = fmt.Fprintf(a.out, "  downloaded %s\n", path)
	}
}
