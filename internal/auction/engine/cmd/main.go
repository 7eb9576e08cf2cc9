package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/engine"
	"github.com/char-123717/AuctiChain/internal/auction/ledger"
	"github.com/char-123717/AuctiChain/internal/auction/repository"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
	"github.com/char-123717/AuctiChain/internal/config"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := repository.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to document store")
	}
	repo := repository.New(db)

	ledgerClient, err := ledger.NewEthereumClient(ledger.EthereumConfig{
		RPCURL:      cfg.Ledger.RPCURL,
		AdminKeyHex: cfg.Ledger.AdminKeyHex,
		ChainID:     cfg.Ledger.ChainID,
		CallTimeout: cfg.Ledger.CallTimeout(),
		GasLimit:    cfg.Ledger.GasLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ledger client")
	}
	defer ledgerClient.Close()

	jsCfg := stream.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATS.URL
	publisher, err := stream.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	defer publisher.Close()

	eng := engine.New(repo, ledgerClient, ledgerClient, publisher, clockwork.NewRealClock(), engine.Options{
		TickInterval:       cfg.Engine.TickInterval(),
		ReconcileInterval:  cfg.Engine.ReconcileInterval(),
		FinalizeInterval:   cfg.Engine.FinalizeInterval(),
		LedgerTimeout:      cfg.Ledger.CallTimeout(),
		MaxConcurrentSyncs: cfg.Engine.MaxConcurrentSyncs,
	})

	hintSub, err := eng.SubscribeHints(ctx, publisher.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to bid hints")
	}
	defer hintSub.Unsubscribe()

	mux := http.NewServeMux()
	engine.NewAdminHandler(eng.Freezer).RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Engine.AdminPort),
		Handler: c.Handler(mux),
	}

	go func() {
		log.Info().Int("port", cfg.Engine.AdminPort).Msg("admin API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin server failed")
			cancel()
		}
	}()

	log.Info().
		Str("rpc_url", cfg.Ledger.RPCURL).
		Str("nats_url", cfg.NATS.URL).
		Str("database", cfg.Mongo.Database).
		Msg("starting auction engine")

	if err := eng.Run(ctx); err != nil {
		log.Error().Err(err).Msg("engine exited with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Ledger.CallTimeout())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown failed")
	}
	log.Info().Msg("auction engine stopped")
}
