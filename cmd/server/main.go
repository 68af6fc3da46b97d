package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ScriptGlance/realtime/internal/config"
	"github.com/ScriptGlance/realtime/internal/content"
	"github.com/ScriptGlance/realtime/internal/editing"
	"github.com/ScriptGlance/realtime/internal/logging"
	"github.com/ScriptGlance/realtime/internal/presence"
	"github.com/ScriptGlance/realtime/internal/protocol"
	"github.com/ScriptGlance/realtime/internal/room"
	"github.com/ScriptGlance/realtime/internal/storage"
	"github.com/ScriptGlance/realtime/internal/teleprompter"
	"github.com/ScriptGlance/realtime/internal/ws"
)

func main() {
	cfg := config.Load()
	logging.Configure(logging.Config{Level: cfg.LogLevel})
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connection failed")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	pool, err := storage.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	pg := storage.NewPostgres(pool)
	hub := room.NewHub(logging.WithComponent("hub"))
	registry := presence.NewMemoryRegistry()
	snapshots := teleprompter.NewSnapshotStore(rdb)

	// The liveness check closes over the teleprompter engine, which is
	// constructed after the content store it feeds.
	var prompter *teleprompter.Engine
	store := content.NewStore(rdb, pg, func(ctx context.Context, partID int64) (bool, error) {
		presentationID, err := pg.PresentationOf(ctx, partID)
		if err != nil {
			return false, err
		}
		return prompter.IsLive(ctx, presentationID)
	}, logging.WithComponent("content"))

	editor := editing.New(store, registry, hub, pg, pg, logging.WithComponent("editing"))
	prompter = teleprompter.New(teleprompter.Deps{
		Snapshots:     snapshots,
		Sender:        hub,
		Parts:         pg,
		Presentations: pg,
		Access:        pg,
		Rehearsals:    pg,
		Content:       store,
		Flusher:       editor,
		ConfirmWindow: cfg.ConfirmationTimeout,
		Log:           logging.WithComponent("teleprompter"),
	})

	// Sessions persisted by a previous process lifetime cannot have live
	// participants; finalize and drop them before accepting connections.
	if err := prompter.SweepOrphans(ctx); err != nil {
		log.Error().Err(err).Msg("orphaned session sweep failed")
	}

	handler := ws.NewHandler(hub, editor, prompter, identityFromRequest(), logging.WithComponent("ws"))

	router := mux.NewRouter()
	router.Handle("/ws", handler)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("realtime server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		store.RunFlushLoop(gctx, cfg.FlushInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}

// identityFromRequest trusts the identity attached by the fronting
// authentication layer. Requests reach this process only after that layer
// has verified the caller.
func identityFromRequest() ws.Authenticator {
	return ws.AuthenticatorFunc(func(r *http.Request) (int64, error) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			raw = r.URL.Query().Get("user_id")
		}
		if raw == "" {
			return 0, protocol.ErrUnauthorized
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return 0, protocol.ErrUnauthorized
		}
		return userID, nil
	})
}
