// Package monitor exposes the ops HTTP surface: liveness plus the
// pipeline's varz counters.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atrimo/torrent/pkg/logger"
)

// VarzSource supplies point-in-time stats.
type VarzSource interface {
	Varz() map[string]interface{}
}

// Server is the monitoring HTTP server.
type Server struct {
	http *http.Server
}

// NewServer builds the server on the given port.
func NewServer(port int, source VarzSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(source),
		},
	}
}

func newRouter(source VarzSource) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/varz", func(c *gin.Context) {
		c.JSON(http.StatusOK, source.Varz())
	})
	return router
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error().Err(err).Msg("monitor server failed")
		}
	}()
	logger.Log.Info().Str("addr", s.http.Addr).Msg("monitor server started")
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.http.Shutdown(ctx)
}
