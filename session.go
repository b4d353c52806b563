package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SessionState 連線狀態
type SessionState int32

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 對單一裝置的 Modbus TCP 連線
//
// readMu 保護單次請求/回應交換；connMu 保護連線建立、關閉與端點更新。
// 兩者同時需要時先取 readMu。
type Session struct {
	readMu sync.Mutex
	connMu sync.Mutex

	endpoint Endpoint
	interval time.Duration
	handle   transport

	state atomic.Int32

	connectTimeout time.Duration
	requestTimeout time.Duration
	settleDelay    time.Duration
	retry          RetryPolicy

	dial    DialFunc
	sleep   sleepFunc
	logger  *zap.Logger
	metrics *Metrics
}

// NewSession 建立 Session，連線延遲到第一次使用時建立
func NewSession(ep Endpoint, interval time.Duration, cfg PollerConfig, opts ...Option) *Session {
	o := newOptions(opts)
	return &Session{
		endpoint:       ep,
		interval:       interval,
		connectTimeout: cfg.ConnectTimeout,
		requestTimeout: cfg.RequestTimeout,
		settleDelay:    cfg.CloseSettleDelay,
		retry:          cfg.RetryPolicy(),
		dial:           o.dial,
		sleep:          o.sleep,
		logger:         o.logger,
		metrics:        o.metrics,
	}
}

// State 取得當前狀態
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Endpoint 取得目前端點
func (s *Session) Endpoint() Endpoint {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.endpoint
}

// Interval 取得輪詢間隔
func (s *Session) Interval() time.Duration {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.interval
}

// EnsureConnected 確保連線已建立
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.ensureLocked(ctx)
}

func (s *Session) ensureLocked(ctx context.Context) error {
	switch s.State() {
	case SessionClosed:
		return &ConnectionError{Endpoint: s.endpoint.String(), Err: ErrSessionClosed}
	case SessionConnected:
		if s.handle != nil {
			return nil
		}
	}

	if s.handle == nil {
		s.handle = s.dial(s.endpoint, s.requestTimeout)
	}
	h := s.handle
	s.state.Store(int32(SessionConnecting))

	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.Connect()
	}()

	select {
	case err := <-done:
		if err != nil {
			s.state.Store(int32(SessionDisconnected))
			s.logger.Warn("連線失敗", zap.Stringer("endpoint", s.endpoint), zap.Error(err))
			return &ConnectionError{Endpoint: s.endpoint.String(), Err: err}
		}
	case <-connectCtx.Done():
		// Connect 仍在進行，丟棄此 handle 並在背景關閉
		s.handle = nil
		s.state.Store(int32(SessionDisconnected))
		go func() {
			<-done
			_ = h.Close()
		}()
		s.logger.Warn("連線逾時", zap.Stringer("endpoint", s.endpoint), zap.Duration("timeout", s.connectTimeout))
		return &ConnectionError{Endpoint: s.endpoint.String(), Err: connectCtx.Err()}
	}

	s.state.Store(int32(SessionConnected))
	s.metrics.connected()
	s.logger.Info("已連線到 Modbus 裝置", zap.Stringer("endpoint", s.endpoint))
	return nil
}

// ReadBlock 讀取 count 個連續保持暫存器
func (s *Session) ReadBlock(ctx context.Context, address, count uint16) ([]uint16, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.connMu.Lock()
	h := s.handle
	connected := s.State() == SessionConnected
	ep := s.endpoint
	s.connMu.Unlock()

	if h == nil || !connected {
		return nil, &ConnectionError{Endpoint: ep.String(), Err: ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Endpoint: ep.String(), Err: err}
	}

	data, err := h.ReadHoldingRegisters(address, count)
	if err != nil {
		return nil, &ProtocolError{Address: address, Count: count, Err: asModbusError(err)}
	}
	if data == nil {
		return nil, &ProtocolError{Address: address, Count: count, Err: errors.New("無回應")}
	}
	if len(data)%2 != 0 || len(data)/2 != int(count) {
		return nil, &ProtocolError{Address: address, Count: count, Got: len(data) / 2}
	}

	return RegistersFromBytes(data), nil
}

// Close 關閉連線並丟棄 handle，重複呼叫無副作用
//
// 返回 handle 是否已斷線。錯誤只記錄不返回。
func (s *Session) Close() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() bool {
	h := s.handle
	wasConnected := s.State() == SessionConnected

	s.handle = nil
	if s.State() != SessionClosed {
		s.state.Store(int32(SessionDisconnected))
	}

	if h == nil || !wasConnected {
		return true
	}

	err := h.Close()
	_ = s.sleep(context.Background(), s.settleDelay)
	if err != nil {
		s.logger.Warn("關閉連線時發生錯誤", zap.Error(err))
		return false
	}

	s.logger.Debug("連線已關閉")
	return true
}

// UpdateEndpoint 更新端點與輪詢間隔，端點改變時重新連線
func (s *Session) UpdateEndpoint(ctx context.Context, ep Endpoint, interval time.Duration) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.State() == SessionClosed {
		return &ConnectionError{Endpoint: ep.String(), Err: ErrSessionClosed}
	}

	s.interval = interval
	if ep == s.endpoint {
		return nil
	}

	s.closeLocked()
	s.logger.Info("端點已變更",
		zap.Stringer("old_endpoint", s.endpoint),
		zap.Stringer("new_endpoint", ep),
	)
	s.endpoint = ep

	return s.ensureLocked(ctx)
}

// Shutdown 關閉連線，之後此 Session 不可再使用
func (s *Session) Shutdown() {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.closeLocked()
	s.state.Store(int32(SessionClosed))
	s.logger.Info("Session 已關閉")
}
