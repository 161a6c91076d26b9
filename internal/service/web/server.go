package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf("[WebServer] Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 在配置了用户名和密码时强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux 注册状态 API 与 WebSocket 端点。
func NewMux(cfg types.WebConf, provider StatusProvider, hub *Hub) *http.ServeMux {
	handler := NewHandler(provider, hub)
	mux := http.NewServeMux()

	mux.Handle("/api/status", basicAuthMiddleware(http.HandlerFunc(handler.HandleStatus), cfg.User, cfg.Password))
	mux.Handle("/api/nodes", basicAuthMiddleware(http.HandlerFunc(handler.HandleNodes), cfg.User, cfg.Password))
	mux.Handle("/ws", basicAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}), cfg.User, cfg.Password))
	return mux
}

// Server 是可选的状态服务。
type Server struct {
	srv *http.Server
	hub *Hub
}

// StartServer 在 cfg.Port 上启动状态服务；端口不大于 0 时返回 nil。
func StartServer(wg *sync.WaitGroup, cfg types.WebConf, provider StatusProvider, hub *Hub) (*Server, error) {
	l := logger.WithComponent("Web/Server")
	if cfg.Port <= 0 {
		l.Info().Msg("Status service is disabled (port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{Handler: NewMux(cfg, provider, hub)},
		hub: hub,
	}
	l.Info().Msgf("Status service is listening on http://%s", addr)

	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run()
	}()
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Status service error.")
		}
		l.Info().Msg("Status service stopped.")
	}()
	return s, nil
}

// Shutdown 停止接收请求并断开所有 WebSocket 客户端。
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.hub.Stop()
	return s.srv.Shutdown(ctx)
}
