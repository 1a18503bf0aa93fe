// Package server exposes a gateway over HTTP: a websocket route for remote
// API clients plus health, readiness and metrics endpoints.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/gateway"
	"github.com/danmuck/zremote/internal/observability"
	"github.com/danmuck/zremote/internal/protocol/frame"
)

const Version = "0.1.0"

// Config names the listeners of one gateway process.
type Config struct {
	Name        string
	Addr        string
	TCPAddr     string
	WSPath      string
	CorsOrigins []string
}

type Server struct {
	cfg      Config
	gw       *gateway.Gateway
	router   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time
	ctx      context.Context
}

func New(cfg Config, gw *gateway.Gateway) *Server {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "zremoted"
	}
	if strings.TrimSpace(cfg.WSPath) == "" {
		cfg.WSPath = "/"
	}
	cfg.CorsOrigins = normalizeOrigins(cfg.CorsOrigins)

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(corsConfig(cfg.CorsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		gw:      gw,
		router:  r,
		started: time.Now(),
		ctx:     context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.registerRoutes()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"uptime":       time.Since(s.started).String(),
			"service":      s.cfg.Name,
			"version":      Version,
			"active_conns": s.gw.ActiveConns(),
		})
	})
	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.Name,
			"version": Version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET(s.cfg.WSPath, s.handleWebSocket)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}
	cfg := s.gw.Config()
	conn := frame.NewWebSocketConn(ws, s.gw.Limits())
	go conn.KeepAlive(cfg.HeartbeatInterval, cfg.SessionDeadAfter)
	if err := s.gw.ServeConn(s.ctx, c.Request.RemoteAddr, conn); err != nil {
		log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket connection ended")
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CorsOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Run serves HTTP on Addr and, when TCPAddr is set, newline-delimited
// connections on TCPAddr, until ctx is cancelled. Both listeners use TLS
// when the gateway's session config enables it.
func (s *Server) Run(ctx context.Context) error {
	tlsCfg, err := s.gw.Config().ServerTLS()
	if err != nil {
		return err
	}
	s.ctx = ctx

	httpLn, err := listen(s.cfg.Addr, tlsCfg)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpLn.Addr().String()).Bool("tls", tlsCfg != nil).Str("ws_path", s.cfg.WSPath).Msg("gateway http listening")
		errs <- httpSrv.Serve(httpLn)
	}()
	if strings.TrimSpace(s.cfg.TCPAddr) != "" {
		tcpLn, err := listen(s.cfg.TCPAddr, tlsCfg)
		if err != nil {
			_ = httpSrv.Close()
			return err
		}
		go func() {
			errs <- s.gw.ServeListener(ctx, tcpLn, nil)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		if errors.Is(runErr, http.ErrServerClosed) {
			runErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	s.gw.Wait()
	log.Info().Str("service", s.cfg.Name).Msg("gateway stopped")
	return runErr
}

func listen(addr string, tlsCfg *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
