package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"task-tracker/internal/cli"
	"task-tracker/internal/client"
	"task-tracker/internal/tui"
	"task-tracker/internal/ui"
)

func main() {
	apiURL := flag.String("api", client.BaseURLFromEnv(), "API base URL")
	flag.Usage = func() { cli.PrintHelp(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintHelp(os.Stderr)
		os.Exit(2)
	}

	store, err := client.DefaultCredentialStore()
	if err != nil {
		ui.Fail(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code := cli.Run(ctx, args, cli.Options{
		Session: client.NewSession(client.New(*apiURL, nil), store),
		Out:     os.Stdout,
		Err:     os.Stderr,
		In:      os.Stdin,
		RunUI:   tui.Run,
	})
	stop()
	os.Exit(code)
}
