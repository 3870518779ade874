// Command migrate applies the repscore schema migrations with goose.
//
// The server applies pending migrations on startup when DATABASE_URL is set;
// this command is for running them ahead of a deploy or rolling them back.
//
// Usage:
//
//	migrate [-dir path] [-timeout 1m] <command> [version]
//
// Commands: up, down, status, version, redo, up-to <version>, down-to <version>.
// Without -dir the migrations compiled into the binary are used.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/repscore/internal/config"
	"github.com/mbd888/repscore/internal/logging"
	"github.com/mbd888/repscore/migrations"
)

var commands = map[string]int{ // command -> required positional args
	"up":      0,
	"down":    0,
	"status":  0,
	"version": 0,
	"redo":    0,
	"up-to":   1,
	"down-to": 1,
}

var errUsage = errors.New("usage")

type options struct {
	dir     string
	timeout time.Duration
	command string
	args    []string
}

func parseArgs(args []string, out io.Writer) (*options, error) {
	fset := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fset.SetOutput(out)
	opts := &options{}
	fset.StringVar(&opts.dir, "dir", "", "read migrations from this directory instead of the embedded set")
	fset.DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline for the command")
	fset.Usage = func() { usage(out) }

	if err := fset.Parse(args); err != nil {
		return nil, errUsage
	}
	rest := fset.Args()
	if len(rest) == 0 {
		usage(out)
		return nil, errUsage
	}

	opts.command, opts.args = rest[0], rest[1:]
	want, ok := commands[opts.command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", opts.command)
	}
	if len(opts.args) != want {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", opts.command, want, len(opts.args))
	}
	if opts.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	return opts, nil
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: migrate [-dir path] [-timeout 1m] <command> [version]")
	_, _ = fmt.Fprintln(w, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
	_, _ = fmt.Fprintf(w, "Tables: %s\n", strings.Join(migrations.Tables, ", "))
	_, _ = fmt.Fprintln(w, "Environment: DATABASE_URL (required), LOG_LEVEL, LOG_FORMAT")
}

// source returns the filesystem and directory goose should read.
func (o *options) source() (fs.FS, string) {
	if o.dir != "" {
		return nil, o.dir
	}
	return migrations.FS, "."
}

func run(ctx context.Context, opts *options, dbURL string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	fsys, dir := opts.source()
	goose.SetBaseFS(fsys)
	goose.SetLogger(slogAdapter{logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	start := time.Now()
	logger.Info("running migration", "command", opts.command, "args", opts.args, "dir", dir)
	if err := goose.RunContext(ctx, opts.command, db, dir, opts.args...); err != nil {
		return fmt.Errorf("migration %s failed: %w", opts.command, err)
	}
	logger.Info("migration finished", "command", opts.command, "duration", time.Since(start))
	return nil
}

// slogAdapter routes goose's printf-style output through slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Printf(format string, v ...any) {
	a.l.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (a slogAdapter) Fatalf(format string, v ...any) {
	a.l.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			usage(os.Stderr)
		}
		os.Exit(2)
	}

	cfg, err := config.LoadMigrate()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(context.Background(), opts, cfg.DatabaseURL, logger); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}
