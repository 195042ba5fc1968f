package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rawblock/predmarket-engine/internal/config"
	"github.com/rawblock/predmarket-engine/internal/supervisor"
)

// Exit codes per §6: 0 success, 1 configuration error, 2 unrecoverable
// runtime error (fan-out port bind failure, ABI load failure, and so on).
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	log.Println("Starting prediction-market ingestion engine...")

	cfg, err := config.Load()
	if err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(exitConfigError)
	}

	if len(os.Args) < 2 {
		log.Println("usage: engine <history|realtime|backfill fromEpoch toEpoch>")
		os.Exit(exitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(ctx, cfg)
	if err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(exitRuntimeError)
	}
	defer sup.Close()

	switch mode := os.Args[1]; mode {
	case "history":
		err = sup.RunHistory(ctx)
	case "realtime":
		err = sup.RunRealtime(ctx)
	case "backfill":
		if len(os.Args) != 4 {
			log.Println("usage: engine backfill <fromEpoch> <toEpoch>")
			os.Exit(exitConfigError)
		}
		from, perr1 := strconv.ParseInt(os.Args[2], 10, 64)
		to, perr2 := strconv.ParseInt(os.Args[3], 10, 64)
		if perr1 != nil || perr2 != nil {
			log.Println("FATAL: fromEpoch/toEpoch must be integers")
			os.Exit(exitConfigError)
		}
		err = sup.RunBackfill(ctx, from, to)
	default:
		log.Printf("FATAL: unknown mode %q (expected history|realtime|backfill)", mode)
		os.Exit(exitConfigError)
	}

	if err != nil && ctx.Err() == nil {
		log.Printf("FATAL: %v", err)
		os.Exit(exitRuntimeError)
	}

	log.Println("engine shut down cleanly")
	os.Exit(exitOK)
}
