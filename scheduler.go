package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerStatus 最近一次輪詢的狀態
type SchedulerStatus struct {
	Snapshot            Snapshot  `json:"snapshot" yaml:"snapshot"`
	LastUpdate          time.Time `json:"last_update" yaml:"last_update"`
	LastError           string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures" yaml:"consecutive_failures"`
	Cycles              uint64    `json:"cycles" yaml:"cycles"`
	Available           bool      `json:"available" yaml:"available"`
}

// Consumer 每次取得快照後被呼叫
type Consumer func(Snapshot)

// Scheduler 依輪詢間隔反覆執行 Poller
type Scheduler struct {
	poller *Poller
	logger *zap.Logger

	mu        sync.RWMutex
	status    SchedulerStatus
	consumers []Consumer
}

// NewScheduler 建立排程器
func NewScheduler(poller *Poller, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		poller: poller,
		logger: logger,
	}
}

// Subscribe 註冊快照消費者
func (s *Scheduler) Subscribe(c Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers = append(s.consumers, c)
}

// Status 取得最近一次輪詢的狀態 (快照為複本)
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Snapshot = s.status.Snapshot.Clone()
	return st
}

// Run 立即執行一次輪詢，之後依間隔執行，直到 ctx 取消
//
// 每個週期結束後重新讀取間隔，UpdateEndpoint 的變更在下一個週期生效。
// 返回前關閉 Poller。
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.poller.Close(context.Background())

	interval := s.poller.Interval()
	if interval <= 0 {
		return fmt.Errorf("輪詢間隔必須大於 0: %s", interval)
	}
	s.logger.Info("開始輪詢",
		zap.Stringer("endpoint", s.poller.Session().Endpoint()),
		zap.Duration("interval", interval),
	)

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("停止輪詢")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)

			if next := s.poller.Interval(); next != interval && next > 0 {
				s.logger.Info("輪詢間隔已變更", zap.Duration("old", interval), zap.Duration("new", next))
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// RunOnce 執行一個輪詢週期並更新狀態
func (s *Scheduler) RunOnce(ctx context.Context) (Snapshot, error) {
	snapshot, err := s.poller.Poll(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		return nil, err
	}

	s.mu.Lock()
	s.status.Cycles++
	if err != nil {
		s.status.ConsecutiveFailures++
		s.status.LastError = err.Error()
	} else {
		s.status.ConsecutiveFailures = 0
		s.status.LastError = ""
	}
	if len(snapshot) > 0 {
		s.status.Snapshot = snapshot
		s.status.LastUpdate = time.Now()
		s.status.Available = true
	} else {
		s.status.Available = false
	}
	failures := s.status.ConsecutiveFailures
	consumers := append([]Consumer(nil), s.consumers...)
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Warn("輪詢週期失敗",
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
	}

	if len(snapshot) > 0 {
		for _, c := range consumers {
			c(snapshot.Clone())
		}
	}
	return snapshot, err
}
