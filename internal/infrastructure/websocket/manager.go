package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/metrics"
)

// 会话关闭原因
const (
	CloseNormal   = "closed"
	CloseSlow     = "slow"
	CloseWrite    = "write_error"
	CloseShutdown = "shutdown"
)

// Conn 订阅者连接的写端，*websocket.Conn 直接满足
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type ManagerOptions struct {
	Buffer       int // 每个会话的发送缓冲，满了视为慢消费者
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Session 一个订阅者会话，拥有自己的发送队列和写 goroutine
type Session struct {
	id   string
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *Session) ID() string { return s.id }

// Done 会话结束后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) stop() { s.once.Do(func() { close(s.done) }) }

// Manager 管理所有订阅者会话，把每个 tick 的快照扇出给它们。
// 快照每个 tick 只序列化一次；某个会话写失败或消费太慢只会拆掉该会话。
type Manager struct {
	opts ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*Session
	last     []byte
	closed   bool
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Manager{opts: opts, sessions: make(map[string]*Session)}
}

func (m *Manager) Name() string { return "sessions" }

// Register 新会话立即收到最近一次的快照（如果有）
func (m *Manager) Register(conn Conn) *Session {
	s := &Session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, m.opts.Buffer),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.stop()
		_ = conn.Close()
		return s
	}
	m.sessions[s.id] = s
	// 持锁入队，之后的 Broadcast 只能排在它后面；新建的 channel 有缓冲，不会阻塞
	if m.last != nil {
		s.send <- m.last
	}
	total := len(m.sessions)
	m.mu.Unlock()

	go m.writeLoop(s)

	m.opts.Metrics.SessionOpened()
	log.Info().Str("session", s.id).Int("sessions", total).Msg("subscriber connected")
	return s
}

func (m *Manager) Unregister(s *Session) { m.remove(s, CloseNormal) }

// Publish 实现 port.SnapshotSink
func (m *Manager) Publish(_ context.Context, snap *model.SpreadSnapshot) error {
	payload, err := json.Marshal(snap.Message())
	if err != nil {
		return err
	}
	m.Broadcast(payload)
	return nil
}

// Broadcast 非阻塞投递；队列已满的会话被拆掉
func (m *Manager) Broadcast(payload []byte) {
	m.mu.Lock()
	m.last = payload
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		select {
		case s.send <- payload:
		default:
			m.remove(s, CloseSlow)
		}
	}
}

// Count 当前会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close 关闭所有会话，之后的 Register 直接关闭连接
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.stop()
		_ = s.conn.Close()
		m.opts.Metrics.SessionClosed(CloseShutdown)
	}
	if len(all) > 0 {
		log.Info().Int("sessions", len(all)).Msg("all subscriber sessions closed")
	}
	return nil
}

func (m *Manager) remove(s *Session, reason string) {
	m.mu.Lock()
	if _, ok := m.sessions[s.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.id)
	total := len(m.sessions)
	m.mu.Unlock()

	s.stop()
	_ = s.conn.Close()
	m.opts.Metrics.SessionClosed(reason)
	log.Info().Str("session", s.id).Str("reason", reason).Int("sessions", total).Msg("subscriber disconnected")
}

func (m *Manager) writeLoop(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			if err := s.conn.WriteMessage(gws.TextMessage, payload); err != nil {
				log.Debug().Str("session", s.id).Err(err).Msg("write failed")
				m.remove(s, CloseWrite)
				return
			}
		}
	}
}

var _ port.SnapshotSink = (*Manager)(nil)
