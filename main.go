// Command backend is the main entrypoint for the book club live room API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs migrations when chat persistence is on.
//   - Selects the comment synthesis backend (OpenAI-compatible HTTP, Gemini, or
//     pre-authored fallback comments only).
//   - Optionally relays a simulcast Twitch channel's chat into one room.
//   - Exposes the HTTP and websocket API with /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: every live room is torn down first.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/bookclub-live/backend/chat"
	"github.com/onnwee/bookclub-live/backend/config"
	"github.com/onnwee/bookclub-live/backend/db"
	"github.com/onnwee/bookclub-live/backend/room"
	"github.com/onnwee/bookclub-live/backend/server"
	"github.com/onnwee/bookclub-live/backend/synth"
	"github.com/onnwee/bookclub-live/backend/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("bookclub-live", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	var store chat.Store
	if cfg.ChatPersist {
		database = openDatabase(cfg.DBDsn)
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		store = &chat.SQLStore{DB: database}
	} else {
		slog.Info("chat persistence disabled (CHAT_PERSIST=0)")
	}

	synthClient, err := newSynthClient(ctx, cfg)
	if err != nil {
		slog.Error("synthesis backend init failed", slog.Any("err", err), slog.String("provider", cfg.SynthProvider))
		os.Exit(1)
	}

	rooms := room.NewManager(room.Deps{
		Synth:              synthClient,
		Store:              store,
		ViewerWalkInterval: cfg.ViewerWalkInterval,
	})

	if err := cfg.ValidateRelayReady(); err == nil {
		relayRoom := cfg.TwitchRelayRoom
		go chat.StartTwitchRelay(ctx, cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken, rooms.RelayTo(relayRoom))
		slog.Info("twitch chat relay enabled", slog.String("room", relayRoom), slog.String("channel", cfg.TwitchChannel))
	} else {
		slog.Info("twitch chat relay disabled", slog.Any("reason", err))
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		deps := server.Deps{DB: database, Rooms: rooms, SynthCheck: cfg.ValidateSynthReady}
		if err := server.Start(ctx, cfg.HTTPAddr, deps); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()
	slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	rooms.CloseAll()
	<-serverDone
}

func openDatabase(dsn string) *sql.DB {
	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}

	// Versioned migrations first; the embedded idempotent SQL covers databases created
	// before schema_migrations existed.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	}
	return database
}

// newSynthClient builds the synthesis client for the configured provider. Provider "none"
// yields a client without backend, which serves the pre-authored fallback comments.
func newSynthClient(ctx context.Context, cfg *config.Config) (*synth.Client, error) {
	if err := cfg.ValidateSynthReady(); err != nil {
		return nil, err
	}
	var backend synth.Backend
	switch cfg.SynthProvider {
	case config.SynthProviderGemini:
		g, err := synth.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.SynthModel)
		if err != nil {
			return nil, err
		}
		backend = g
	case config.SynthProviderHTTP:
		backend = &synth.HTTPBackend{
			Endpoint: cfg.SynthEndpoint,
			APIKey:   cfg.SynthAPIKey,
			Model:    cfg.SynthModel,
		}
	}
	client := synth.NewClient(backend)
	client.Timeout = cfg.SynthTimeout
	slog.Info("comment synthesis configured", slog.String("provider", cfg.SynthProvider))
	return client, nil
}
