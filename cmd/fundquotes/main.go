package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/logging"
)

const usage = `usage: fundquotes <command> [flags]

commands:
  scrape [-once]          scrape every configured source (default)
  serve                   serve the read-only HTTP API
  import <file.csv>       import fund_id,date,value[,observed_at] rows
  download <url> <file>   stream a file into the download path
  migrate                 create or upgrade the schema and exit
`

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1:]); err != nil {
		logger.Errorw("Command failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, args []string) error {
	cmd := "scrape"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "scrape":
		fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
		once := fs.Bool("once", false, "run a single cycle and exit")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return runScrape(ctx, cfg, logger, *once)
	case "serve":
		return runServe(ctx, cfg, logger)
	case "import":
		if len(args) != 1 {
			return fmt.Errorf("import takes one file\n%s", usage)
		}
		return runImport(ctx, cfg, logger, args[0])
	case "download":
		if len(args) != 2 {
			return fmt.Errorf("download takes a url and a file name\n%s", usage)
		}
		return runDownload(ctx, cfg, logger, args[0], args[1])
	case "migrate":
		return runMigrate(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
