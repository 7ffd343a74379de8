package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/protofire/proteus-shield/go-dev-proxy/models"
	"github.com/protofire/proteus-shield/go-dev-proxy/proxy"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config    *models.RouterConfig
	engine    *gin.Engine
	evaluator *proxy.Evaluator
	logger    zerolog.Logger
}

func New(config *models.RouterConfig, logger zerolog.Logger) (*Server, error) {
	evaluator, err := proxy.NewEvaluator(config.Proxy, logger)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	// every request goes through NoRoute; path fix-ups would bypass the proxy
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.Use(gin.CustomRecoveryWithWriter(nil, recovery(logger)))
	engine.Use(requestLogger(logger))
	engine.Use(evaluator.Middleware())
	engine.NoRoute(fallback(config.StaticDir))

	return &Server{
		config:    config,
		engine:    engine,
		evaluator: evaluator,
		logger:    logger,
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Int("rules", s.evaluator.Len()).
		Str("static_dir", s.config.StaticDir).
		Msg("dev proxy listening")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		s.logger.Info().Msg("dev proxy shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// fallback handles requests that no proxy rule claimed.
func fallback(staticDir string) gin.HandlerFunc {
	if staticDir == "" {
		return func(ctx *gin.Context) {
			ctx.JSON(http.StatusNotFound, gin.H{
				"error":  "no proxy rule or static asset for " + ctx.Request.URL.Path,
				"status": http.StatusNotFound,
			})
		}
	}

	files := http.FileServer(http.Dir(staticDir))
	return func(ctx *gin.Context) {
		// gin primes NoRoute responses with 404
		ctx.Status(http.StatusOK)
		files.ServeHTTP(ctx.Writer, ctx.Request)
	}
}
