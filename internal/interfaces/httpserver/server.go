package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"kimp/internal/infrastructure/metrics"
	"kimp/internal/infrastructure/websocket"
)

const (
	PathSubscribe = "/ws/kimp"
	PathMetrics   = "/metrics"
	PathHealth    = "/healthz"

	shutdownTimeout = 5 * time.Second
	// 订阅者只接收，入站只需要处理控制帧
	maxInboundBytes = 512
)

// Sessions 订阅会话注册表，由 websocket.Manager 实现
type Sessions interface {
	Register(conn websocket.Conn) *websocket.Session
	Unregister(s *websocket.Session)
	Count() int
}

type Options struct {
	Addr     string
	Sessions Sessions
	Metrics  *metrics.Metrics
}

// Server 对外暴露订阅端点、prometheus 指标和健康检查
type Server struct {
	opts     Options
	upgrader gws.Upgrader
	srv      *http.Server
}

func New(opts Options) *Server {
	s := &Server{
		opts: opts,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 订阅端点不做来源限制
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathSubscribe, s.handleSubscribe)
	mux.HandleFunc(PathHealth, s.handleHealth)
	if s.opts.Metrics != nil {
		mux.Handle(PathMetrics, promhttp.HandlerFor(s.opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return cors.AllowAll().Handler(mux)
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回错误响应
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	session := s.opts.Sessions.Register(conn)
	defer s.opts.Sessions.Unregister(session)

	// 读循环只用于感知客户端断开（以及处理 ping/close 控制帧）
	conn.SetReadLimit(maxInboundBytes)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Sessions: s.opts.Sessions.Count()})
}
