package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 區塊讀取的重試策略
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Delay 第 attempt 次失敗後的等待時間 (指數退避，上限 MaxDelay)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// attempts 返回總嘗試次數 (至少 1 次)
func (p RetryPolicy) attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// sleepFunc 可取消的等待
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryReadRegisters 帶重試的暫存器讀取
//
// 每次失敗後等待退避時間、強制關閉並重新建立連線，不在同一個 handle 上直接重試。
// 用盡重試次數後返回 *ConnectionError。
func (s *Session) TryReadRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	attempts := s.retry.attempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		words, err := s.readOnce(ctx, address, count)
		if err == nil {
			return words, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err

		s.metrics.readFailed()
		s.logger.Error("讀取失敗",
			zap.Int("attempt", attempt+1),
			zap.Uint16("address", address),
			zap.Uint16("count", count),
			zap.Error(err),
		)

		if attempt >= attempts-1 {
			break
		}

		delay := s.retry.Delay(attempt)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, &ConnectionError{Endpoint: s.Endpoint().String(), Address: address, Attempts: attempt + 1, Err: err}
		}

		s.metrics.retried()
		if !s.Close() {
			s.logger.Warn("無法正常關閉 Modbus 連線")
		}
		if err := s.EnsureConnected(ctx); err != nil {
			s.logger.Error("重新連線失敗", zap.Uint16("address", address), zap.Error(err))
			continue
		}
		s.logger.Info("已重新連線", zap.Uint16("address", address))
	}

	s.logger.Error("讀取暫存器失敗，已用盡重試次數",
		zap.Uint16("address", address),
		zap.Int("attempts", attempts),
	)
	return nil, &ConnectionError{Endpoint: s.Endpoint().String(), Address: address, Attempts: attempts, Err: lastErr}
}

// readOnce 確保連線後讀取一次
func (s *Session) readOnce(ctx context.Context, address, count uint16) ([]uint16, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return s.ReadBlock(ctx, address, count)
}
