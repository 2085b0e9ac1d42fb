// Package cli implements the command-line interface for s3crawl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/eunmann/s3crawl/pkg/config"
	"github.com/eunmann/s3crawl/pkg/logging"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const usage = `usage: s3crawl <command> [options]
commands:
  worker    consume crawl jobs from the queue
  scan      enqueue account or bucket scans
  schedule  enqueue account scans on a cron schedule
  report    export counters as parquet or a table
  local     crawl buckets in-process with an in-memory queue`

// Run executes the CLI with the given arguments. SIGINT and SIGTERM
// cancel the running command.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, args, os.Stdout)
}

// RunContext is Run with an explicit context and output writer.
func RunContext(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "worker":
		return runWorker(ctx, args[1:])
	case "scan":
		return runScan(ctx, args[1:])
	case "schedule":
		return runSchedule(ctx, args[1:])
	case "report":
		return runReport(ctx, args[1:], stdout)
	case "local":
		return runLocal(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// common holds the flags every command accepts.
type common struct {
	configPath string
	logLevel   string
	human      bool
}

func newFlagSet(name string, c *common) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&c.configPath, "config", "c", "", "path to the YAML configuration file")
	fs.StringVar(&c.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	fs.BoolVar(&c.human, "human", term.IsTerminal(int(os.Stderr.Fd())), "human-friendly console logs")
	return fs
}

// load reads the configuration and initializes logging.
func (c *common) load() (config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		cfg, err = config.Load(c.configPath)
		if err != nil {
			return config.Config{}, err
		}
	} else if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := logging.Init(cfg.Log.Level, c.human || cfg.Log.Human); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parse parses args, turning --help into a nil error.
func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
