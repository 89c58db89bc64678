package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/omochice/toy-messenger/internal/client"
	"github.com/omochice/toy-messenger/internal/config"
	"github.com/omochice/toy-messenger/internal/observability"
	"github.com/omochice/toy-messenger/internal/observability/prom"
	"github.com/omochice/toy-messenger/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(cfg.Level()).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("client stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, in io.Reader, out io.Writer) error {
	db, err := store.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	var obs observability.TransportObserver = observability.NoopTransportObserver
	if cfg.MetricsAddr != "" {
		reg := prom.NewRegistry()
		obs = prom.NewTransportObserver(reg)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: prom.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}

	ui := newConsole(out, db)
	tr := client.New(db, ui,
		client.WithLogger(logger),
		client.WithObserver(obs),
	)
	defer tr.Close()

	if _, err := tr.Connect(ctx, clientCfg); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Server, err)
	}
	logger.Info().Str("server", cfg.Server).Str("login", cfg.Login).Msg("connected")

	if contacts, err := tr.SyncContacts(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to sync contacts")
	} else {
		ui.printf("%d contacts\n", len(contacts))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Error().Err(err).Msg("error reading input")
		}
	}()

	ui.printf("Type /help for commands.\n")
	sh := &shell{tr: tr, store: db, ui: ui}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ui.lost:
			ui.printf("*** connection to the server was lost ***\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := sh.handle(ctx, line)
			if err != nil {
				ui.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}
