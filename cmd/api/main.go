package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/bankassist/internal/api"
	"github.com/punchamoorthee/bankassist/internal/config"
	"github.com/punchamoorthee/bankassist/internal/llm"
	"github.com/punchamoorthee/bankassist/internal/logger"
	"github.com/punchamoorthee/bankassist/internal/service"
	"github.com/punchamoorthee/bankassist/internal/store"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml); env vars override it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("", "info")
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	ledger, convs, closeStores := openStores(ctx, cfg, log)
	defer closeStores()

	if cfg.SeedDefaultAccounts {
		n, err := store.Bootstrap(ctx, ledger, store.DefaultAccounts())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to seed default accounts")
		}
		if n > 0 {
			log.Info().Int("accounts", n).Msg("Seeded default accounts")
		}
	}

	gen := newGenerator(ctx, cfg, log)
	dispatcher := service.NewDispatcher(ledger, log)
	chat := service.NewChatService(ledger, convs, gen, dispatcher, log)
	handler := api.NewHandler(chat, dispatcher, ledger, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, log, cfg.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("environment", cfg.Env).Bool("postgres", cfg.UsePostgres()).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Ledger, store.ConversationStore, func()) {
	if !cfg.UsePostgres() {
		log.Warn().Msg("DB_SOURCE not set, using in-memory stores")
		return store.NewMemoryLedger(), store.NewMemoryConversations(cfg.MaxConversationHistory), func() {}
	}

	pool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to connect to database")
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		log.Fatal().Err(err).Msg("Schema migration failed")
	}
	return store.NewPostgresLedger(pool), store.NewPostgresConversations(pool, cfg.MaxConversationHistory), pool.Close
}

func newGenerator(ctx context.Context, cfg *config.Config, log zerolog.Logger) llm.Generator {
	if cfg.GeminiAPIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY not set, chat turns will report the provider as unavailable")
		return llm.Unavailable{}
	}
	gen, err := llm.NewGeminiGenerator(ctx, llm.GeminiOptions{
		APIKey:      cfg.GeminiAPIKey,
		Model:       cfg.GeminiModel,
		Temperature: cfg.GeminiTemperature,
		MaxTokens:   cfg.GeminiMaxTokens,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	log.Info().Str("model", cfg.GeminiModel).Msg("Gemini generator ready")
	return gen
}
