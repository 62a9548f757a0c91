// Package relay exposes command results to out-of-process consumers over
// websocket, next to health and metrics endpoints.
package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/marionette/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// StatusFunc reports the session state shown on /healthz.
type StatusFunc func() string

func NewRouter(hub *Hub, status StatusFunc, corsOrigins []string) *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	started := time.Now()
	r.GET("/healthz", func(c *gin.Context) {
		state := "unknown"
		if status != nil {
			state = status()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"state":       state,
			"uptime":      time.Since(started).String(),
			"subscribers": hub.ClientCount(),
		})
	})
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	r.GET("/results", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})
	return r
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost", "http://127.0.0.1"}
	}
	return out
}

// Run serves handler on addr until ctx ends, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("relay.Run listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Str("addr", addr).Msg("relay.Run stopped")
		return nil
	}
}
