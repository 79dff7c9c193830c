package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/bridgectl/internal/observability"
)

// adminServer hosts the HTTP surface next to the framed listener. It is
// read-mostly; cache clear is the only mutation it exposes.
type adminServer struct {
	svc    *Service
	router *gin.Engine
	http   *http.Server
}

func newAdminServer(svc *Service) *adminServer {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(svc.cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &adminServer{
		svc:    svc,
		router: r,
		http: &http.Server{
			Addr:              svc.cfg.AdminListen,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	a.registerRoutes()
	return a
}

func (a *adminServer) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.svc.appeared).String(),
			"hub":     a.svc.cfg.HubID,
			"version": "0.0.1",
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(a.svc.appeared).String(),
			"hub":     a.svc.cfg.HubID,
			"version": "0.0.1",
		})
	})

	a.router.GET("/panes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"panes": a.svc.paneList()})
	})

	a.router.GET("/handlers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"handlers": a.svc.engine.Handlers().Types()})
	})

	a.router.POST("/cache/clear", func(c *gin.Context) {
		cleared := a.svc.fetchH.CacheLen()
		a.svc.fetchH.ClearCache()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "cleared": cleared})
	})
}

type paneInfo struct {
	Addr      string `json:"addr"`
	Window    string `json:"window"`
	Private   bool   `json:"private"`
	Connected bool   `json:"connected"`
}

func (s *Service) paneList() []paneInfo {
	peers := s.server.Peers()
	out := make([]paneInfo, 0, len(peers))
	for _, p := range peers {
		_, connected := s.server.SenderFor(p.Addr)
		out = append(out, paneInfo{
			Addr:      string(p.Addr),
			Window:    p.Window,
			Private:   p.Private,
			Connected: connected,
		})
	}
	return out
}

// run serves the admin listener until ctx is done, then drains it.
func (a *adminServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := a.http.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
