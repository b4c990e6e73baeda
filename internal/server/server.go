package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jjudge-oj/mediastore/config"
	"github.com/jjudge-oj/mediastore/internal/db"
	"github.com/jjudge-oj/mediastore/internal/handlers"
	"github.com/jjudge-oj/mediastore/internal/logging"
	"github.com/jjudge-oj/mediastore/internal/metrics"
	"github.com/jjudge-oj/mediastore/internal/mq"
	"github.com/jjudge-oj/mediastore/internal/services"
	"github.com/jjudge-oj/mediastore/internal/storage"
	"github.com/jjudge-oj/mediastore/internal/store"
)

// Server wraps the HTTP server, router and the resources it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	storage    *storage.Storage
	events     *mq.MQ
}

// New connects storage, the metadata database and the optional event
// backend, then builds the router.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	log := logging.L()

	st, err := storage.New(ctx, cfg.Storage, storage.WithLogger(log.Named("storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := st.Test(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("storage unreachable: %w", err)
	}
	if bucket := st.SelectedBucket(); bucket != "" {
		if err := st.SelectBucket(ctx, bucket); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("select bucket %s: %w", bucket, err)
		}
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("database: %w", err)
	}

	events, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		_ = st.Close()
		return nil, fmt.Errorf("mq: %w", err)
	}

	var publisher services.EventPublisher
	if events != nil {
		publisher = events
	}
	mediaService := services.NewMediaService(store.NewMediaRepository(dbConn), st, publisher)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.Middleware,
		metrics.Middleware,
	)
	router.Get("/healthz", handlers.Healthz(st))
	router.Handle("/metrics", metrics.Handler())
	router.Route("/media", func(r chi.Router) {
		handlers.MediaRouter(r, mediaService, cfg.MaxUploadBytes, handlers.RequireAuth(jwtSecret))
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	// No read or write deadline: uploads and downloads stream for as long
	// as the client keeps the connection busy.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("server configured",
		zap.Int("port", port),
		zap.String("storage", string(st.Kind())),
		zap.String("bucket", st.SelectedBucket()),
		zap.Bool("events", events != nil))

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		storage:    st,
		events:     events,
	}, nil
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	logging.L().Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.events != nil {
		_ = s.events.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.storage != nil {
		_ = s.storage.Close()
	}
	return err
}
