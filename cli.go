package main

import (
	"context"
	"fmt"

	"siteclone/app"
	"siteclone/clone"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	SetVerbose(verbose bool)
	Login(ctx context.Context, cfgPath string) error
	Logout(ctx context.Context, cfgPath string) error
	Clone(ctx context.Context, cfgPath string, req clone.Request, opts app.CloneOptions) error
	Backup(ctx context.Context, cfgPath, identifier string) error
	History(ctx context.Context, cfgPath string, limit int) error
	ExportSQL(ctx context.Context, dir string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(application Applicator) *cli.Command {
	// Define flags that are common across multiple commands.
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the configuration file",
	}

	// Define all application commands.
	cloneCmd := &cli.Command{
		Name:      "clone",
		Usage:     "Clone the code, database and files of one environment to another",
		ArgsUsage: "<source> <destination>",
		Description: "Environments are given as <site>.<environment>, for example mysite.live.\n" +
			"Both environments are backed up before the latest source backups are located.",
		Flags: []cli.Flag{
			configFlag,
			&cli.BoolFlag{Name: "no-db", Usage: "do not clone the database"},
			&cli.BoolFlag{Name: "no-files", Usage: "do not clone the files"},
			&cli.BoolFlag{Name: "no-code", Usage: "do not clone the code"},
			&cli.BoolFlag{Name: "no-backup", Usage: "skip creating backups and use the latest existing ones"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "continue without asking if runtime versions differ"},
			&cli.StringFlag{Name: "download", Aliases: []string{"d"}, Usage: "download the located backups to this directory"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 2 {
				return fmt.Errorf("clone requires a source and a destination, got %d arguments", c.NArg())
			}
			req := clone.Request{
				Source:       c.Args().Get(0),
				Destination:  c.Args().Get(1),
				SkipDatabase: c.Bool("no-db"),
				SkipFiles:    c.Bool("no-files"),
				SkipCode:     c.Bool("no-code"),
				SkipBackup:   c.Bool("no-backup"),
			}
			opts := app.CloneOptions{
				AssumeYes:   c.Bool("yes"),
				DownloadDir: c.String("download"),
			}
			return application.Clone(ctx, c.String("config"), req, opts)
		},
	}

	backupCmd := &cli.Command{
		Name:      "backup",
		Usage:     "Back up an environment and wait for the backup to finish",
		ArgsUsage: "<site>.<environment>",
		Flags:     []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return fmt.Errorf("backup requires one environment, got %d arguments", c.NArg())
			}
			return application.Backup(ctx, c.String("config"), c.Args().First())
		},
	}

	loginCmd := &cli.Command{
		Name:  "login",
		Usage: "Obtain and cache a platform machine token",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return application.Login(ctx, c.String("config"))
		},
	}

	logoutCmd := &cli.Command{
		Name:  "logout",
		Usage: "Delete the cached platform token",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return application.Logout(ctx, c.String("config"))
		},
	}

	historyCmd := &cli.Command{
		Name:  "history",
		Usage: "List recent clone runs",
		Flags: []cli.Flag{
			configFlag,
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "number of runs to show"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			limit := int(c.Int("limit"))
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1, got %d", limit)
			}
			return application.History(ctx, c.String("config"), limit)
		},
	}

	exportSQLCmd := &cli.Command{
		Name:      "export-sql",
		Usage:     "Write the history database sql files to a directory for editing",
		ArgsUsage: "<dir>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return fmt.Errorf("export-sql requires a directory, got %d arguments", c.NArg())
			}
			return application.ExportSQL(ctx, c.Args().First())
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:  "siteclone",
		Usage: "Clone hosted site environments using platform backups",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debugging information"},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			application.SetVerbose(c.Bool("verbose"))
			return ctx, nil
		},
		Commands: []*cli.Command{cloneCmd, backupCmd, loginCmd, logoutCmd, historyCmd, exportSQLCmd},
	}

	return rootCmd
}
