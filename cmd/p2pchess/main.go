package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-p2pchess/internal/builder"
	appcfg "github.com/park285/cheese-p2pchess/internal/config"
	"github.com/park285/cheese-p2pchess/internal/obslog"
	"github.com/park285/cheese-p2pchess/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("quit")

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(obslog.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		ToConsole: cfg.Log.ToConsole,
		ToFile:    cfg.Log.ToFile,
		File:      cfg.Log.File,
		Caller:    cfg.Log.Caller,
	}); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "p2pchess", cfg.OTel.Enabled, cfg.OTel.Endpoint)
	if err != nil {
		logger.Warn("tracing_disabled", zap.Error(err))
	}

	con := newConsole(os.Stdout)
	deps, err := builder.New(ctx, cfg, builder.Options{Logger: logger, OnChange: con.onChange})
	if err != nil {
		log.Fatalf("session init error: %v", err)
	}
	con.s = deps.Session
	con.printf("%s\n", helpText())

	if err := run(ctx, con, os.Stdin); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		logger.Error("console_stopped", zap.Error(err))
	}

	if err := deps.Close(); err != nil {
		logger.Warn("close_error", zap.Error(err))
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(sctx); err != nil {
		logger.Warn("tracing_shutdown_error", zap.Error(err))
	}
}

// run feeds input lines to the console until quit, EOF, or ctx ends.
func run(ctx context.Context, con *console, in io.Reader) error {
	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan string)

	// The scanner cannot be interrupted; on shutdown it is left blocked on the read.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if !con.handle(gctx, line) {
					return errQuit
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "shutting down")
			return err
		}
		return nil
	})
	return g.Wait()
}
