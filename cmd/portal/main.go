package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eremconecta/portal/internal/app"
	"github.com/eremconecta/portal/internal/config"
)

func main() {
	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	portal, err := app.NewPortal(ctx, cfg, app.WithAudioOutput(os.Stdout))
	if err != nil {
		log.Fatalf("failed to initialize portal: %v", err)
	}
	defer portal.Close()

	cli := &commandLine{portal: portal, out: os.Stdout}
	if err := cli.run(ctx, os.Args); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
