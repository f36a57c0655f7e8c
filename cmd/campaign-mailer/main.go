package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"campaign-mailer-go/internal/app"
	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/repository"
)

const usage = `Usage: campaign-mailer <command> [flags]

Commands:
  send    dispatch one campaign run
  serve   run the tracking endpoint and background jobs
  stats   print campaign statistics or recipient activity
  purge   delete tracking data older than the retention window
  gmail-token  obtain a Gmail API refresh token

Run "campaign-mailer <command> --help" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}

func run(ctx context.Context, command string, args []string) error {
	flags := pflag.NewFlagSet(command, pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to the configuration file")
	debug := flags.Bool("debug", false, "enable debug logging")

	switch command {
	case "send":
		var opts app.SendOptions
		flags.StringVar(&opts.CampaignID, "campaign-id", "", "campaign id (generated when empty)")
		flags.StringVarP(&opts.Recipients, "recipients", "r", "", "recipients JSON or YAML file")
		flags.StringSliceVarP(&opts.Templates, "templates", "t", nil, "template file names to send, in order")
		flags.BoolVar(&opts.TestMode, "test-mode", false, "send to the first recipient only")
		flags.BoolVar(&opts.ValidateOnly, "validate-only", false, "validate the campaign without sending")
		flags.Parse(args)

		cfg, err := setup(*configPath, *debug)
		if err != nil {
			return err
		}
		result, err := app.Send(ctx, cfg, opts)
		if result != nil && !opts.ValidateOnly {
			printJSON(result)
		}
		return err

	case "serve":
		flags.Parse(args)
		cfg, err := setup(*configPath, *debug)
		if err != nil {
			return err
		}
		return app.Serve(ctx, cfg)

	case "stats":
		var opts app.StatsOptions
		var start, end string
		flags.StringVar(&opts.CampaignID, "campaign-id", "", "campaign to report on")
		flags.StringVar(&opts.Recipient, "recipient", "", "recipient email for an activity report")
		flags.IntVar(&opts.Days, "days", 30, "activity window in days")
		flags.StringVar(&start, "start", "", "period start (RFC 3339)")
		flags.StringVar(&end, "end", "", "period end (RFC 3339)")
		flags.Parse(args)

		period, err := repository.ParseTimeRange(start, end)
		if err != nil {
			return err
		}
		opts.Period = period

		cfg, err := setup(*configPath, *debug)
		if err != nil {
			return err
		}
		return app.Stats(ctx, cfg, opts, os.Stdout)

	case "purge":
		days := flags.Int("days", 0, "retention in days (defaults to tracking.retention_days)")
		flags.Parse(args)
		cfg, err := setup(*configPath, *debug)
		if err != nil {
			return err
		}
		return app.Purge(ctx, cfg, *days, os.Stdout)

	case "gmail-token":
		redirect := flags.String("redirect-url", "", "OAuth2 redirect URL registered for the client")
		flags.Parse(args)
		app.SetupLogging("info", *debug)
		return app.GmailToken(ctx, *configPath, *redirect, os.Stdin, os.Stdout)

	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func setup(configPath string, debug bool) (*config.Config, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	app.SetupLogging(cfg.Log.Level, debug)
	return cfg, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logrus.Errorf("Failed to print result: %v", err)
	}
}
