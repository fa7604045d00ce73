// Command replica runs one exchange replica: accept path, matching
// engine, durable offer/match logs, subscription registrar, and (on the
// primary) the peer cross-check fan-out. Process shape follows the
// teacher's cmd/main.go: signal.NotifyContext, a supervising tomb, and a
// blocking wait on ctx.Done().
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"lattice/internal/config"
	"lattice/internal/engine"
	"lattice/internal/httpapi"
	"lattice/internal/offer"
	"lattice/internal/persistor"
	"lattice/internal/registrar"
	"lattice/internal/replicacheck"
	"lattice/internal/sequencer"
	"lattice/internal/storage"
	"lattice/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to replica config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	configureLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("replica exited with error")
	}
}

func configureLogging(lc config.LoggingConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	securities := make([]offer.Security, 0, len(cfg.Securities))
	for _, s := range cfg.Securities {
		sec, err := config.ParseSecurity(s)
		if err != nil {
			return err
		}
		securities = append(securities, sec)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	seq, err := sequencer.Open(store)
	if err != nil {
		return err
	}

	toRegistrar := make(chan engine.Outcome, 256)
	toPersistor := make(chan engine.Outcome, 256)

	eng := engine.New(securities, toRegistrar, toPersistor)
	reg := registrar.New(toRegistrar)
	pers, err := persistor.Open(store, toPersistor)
	if err != nil {
		return err
	}

	var checker *replicacheck.Checker
	if cfg.Role == config.RolePrimary {
		checker = replicacheck.New(cfg.Replicas.PeerBaseURLs, cfg.Replicas.PeerTimeout)
	}

	server := httpapi.New(httpapi.Config{
		Addr:      cfg.HTTP.Address,
		Sequencer: seq,
		Engine:    eng,
		Registrar: reg,
		Checker:   checker,
		IsPrimary: cfg.Role == config.RolePrimary,
	})

	var t tomb.Tomb
	workerpool.Run(&t, "matching-engine", eng.Run)
	workerpool.Run(&t, "match-persistor", pers.Run)
	workerpool.Run(&t, "subscription-registrar", reg.Run)
	t.Go(func() error {
		return server.Run(ctx)
	})

	log.Info().Str("role", string(cfg.Role)).Str("id", cfg.ID).Str("addr", cfg.HTTP.Address).Msg("replica started")

	select {
	case <-ctx.Done():
		t.Kill(nil)
	case <-t.Dying():
	}
	return t.Wait()
}
