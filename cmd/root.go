// Package cmd wires up the CLI flags and runs the relay worker.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"ipcrelay/config"
	"ipcrelay/internal/core"
	"ipcrelay/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ipcrelay/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// ExitUsage is the status for an invalid command line or
// configuration; the worker never started.
const ExitUsage = 2

// Main runs the worker as a process: SIGINT and SIGTERM interrupt it,
// and the returned value is the process exit status.
func Main(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code, err := Execute(ctx, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-worker: %v\n", err)
		return ExitUsage
	}
	return code
}

// Execute parses args, runs the worker and returns the process exit
// code.  A non-nil error means the worker never started; the caller
// should exit with status 2.
func Execute(ctx context.Context, args []string) (int, error) {
	return execute(ctx, args, os.Stdout)
}

func execute(ctx context.Context, args []string, out io.Writer) (int, error) {
	// Environment first, so that flags override it.
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("relay-worker", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── control channel ──────────────────────────────────────────
	fs.IntVar(&cfg.ChannelFD, "channel-fd", cfg.ChannelFD, "Inherited control socket descriptor (-1: none)")
	fs.IntVar(&cfg.MaxFrameSize, "max-frame", cfg.MaxFrameSize, "Largest accepted control frame in bytes")
	fs.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "Deadline for one frame sent to the parent")

	// ── lifecycle ────────────────────────────────────────────────
	fs.DurationVar(&cfg.Failsafe, "failsafe", cfg.Failsafe, "Exit with status 1 after this long")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "How long pending output may take to flush on exit")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file instead of stderr")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if fs.NArg() > 0 {
		return 0, fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}
	if fs.Changed("verbose") {
		cfg.Verbose = verbose
	}

	if showHelp {
		printUsage(out, fs)
		return 0, nil
	}
	if showVersion {
		fmt.Fprintf(out, "relay-worker %s\n", version)
		return 0, nil
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if cfg.DryRun {
		printConfig(out, cfg)
		return 0, nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("log file: %w", err)
		}
		defer f.Close()
		logger.SetOutput(f)
		logger.SetTimestamps(true)
	}

	if util.IsInteractive(os.Stdin) {
		logger.Warn("stdin is a terminal; relay-worker is meant to be spawned by a parent process")
	}

	w, err := core.Build(cfg, logger)
	if err != nil {
		return 0, err
	}

	res := w.Run(ctx)
	return res.Code, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func printConfig(out io.Writer, cfg *config.Config) {
	channel := "none"
	if cfg.HasChannel() {
		channel = fmt.Sprintf("fd %d (%s)", cfg.ChannelFD, cfg.Serialization)
	}
	fmt.Fprintf(out, "channel:       %s\n", channel)
	fmt.Fprintf(out, "max frame:     %d bytes\n", cfg.MaxFrameSize)
	fmt.Fprintf(out, "send timeout:  %v\n", cfg.SendTimeout)
	fmt.Fprintf(out, "failsafe:      %v\n", cfg.Failsafe)
	fmt.Fprintf(out, "drain timeout: %v\n", cfg.DrainTimeout)
	fmt.Fprintf(out, "verbosity:     %d\n", cfg.Verbose)
}

func printUsage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(out, `relay-worker v%s

A child process that echoes stdin to stdout and acts on control
messages sent by its parent over an inherited socket.

Usage:
  relay-worker [options]

Options:
`, version)
	fs.SetOutput(out)
	fs.PrintDefaults()
	fmt.Fprintf(out, `
Environment:
  NODE_CHANNEL_FD, RELAY_CHANNEL_FD   control socket descriptor
  NODE_CHANNEL_SERIALIZATION_MODE     must be "json" when set
  RELAY_FAILSAFE_MS, RELAY_DRAIN_MS, RELAY_SEND_TIMEOUT_MS
  RELAY_MAX_FRAME, RELAY_VERBOSE, RELAY_LOG_FILE, RELAY_DRY_RUN

Exit status:
  42  stdin delivered the chunk "exit"
  1   uncaught fault, failsafe timeout or interrupt
  0   stdin and control channel both closed
  2   invalid command line or configuration
`)
}
