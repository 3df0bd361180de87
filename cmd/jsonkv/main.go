package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"jsonkv/internal/audit"
	"jsonkv/internal/config"
	"jsonkv/internal/fingerprint"
	"jsonkv/internal/kv"
	"jsonkv/internal/logging"
	"jsonkv/internal/storage"
	boltstore "jsonkv/internal/store/bolt"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case errors.Is(err, errUsage):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "jsonkv: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("jsonkv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	file := fs.String("file", "", "JSON data file (overrides config)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides config)")
	logFormat := fs.String("log-format", "", "text or json (overrides config)")
	interval := fs.Duration("interval", 0, "periodic flush interval (overrides config)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: jsonkv [flags] <command> [args]")
		fmt.Fprint(stderr, commandHelp())
		fmt.Fprintln(stderr, "Flags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	// Load config (TOML file with defaults); flags override.
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *file != "" {
		cfg.Store.Path = *file
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *interval > 0 {
		cfg.Store.FlushInterval.Duration = *interval
	}
	cfg.Store.Path = config.ExpandHome(cfg.Store.Path)
	cfg.Audit.Path = config.ExpandHome(cfg.Audit.Path)

	logging.Init(cfg.Log.Level, cfg.Log.Format, stderr)

	name, cmdArgs := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		fs.Usage()
		return errUsage
	}

	st, err := kv.Open(cfg.Store.Path, kv.Options{
		Interval: cfg.Store.FlushInterval.Duration,
		Storage: storage.Options{
			Fingerprint: fingerprint.ForMode(cfg.Store.Fingerprint),
			Debounce:    cfg.Store.Debounce.Duration,
			Serialize:   cfg.Store.Serialize,
		},
	})
	if err != nil {
		return err
	}

	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		db, err := openAudit(cfg.Audit.Path)
		if err != nil {
			_, closeErr := st.Close(context.WithoutCancel(ctx))
			return errors.Join(err, closeErr)
		}
		defer db.Close()
		recorder = audit.NewRecorder(db, 0)
		defer recorder.Attach(st)()
	}

	env := &cmdEnv{
		ctx:      ctx,
		store:    st,
		recorder: recorder,
		out:      stdout,
		pretty:   isTerminal(stdout),
	}
	runErr := cmd.run(env, cmdArgs)

	unflushed, closeErr := st.Close(context.WithoutCancel(ctx))
	if unflushed {
		fmt.Fprintln(stderr, "warning: some changes were not written to disk")
	}
	return errors.Join(runErr, closeErr)
}

func openAudit(path string) (*boltstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	db, err := boltstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return db, nil
}
