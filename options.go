package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Option Session 與 Poller 共用的配置選項
type Option func(*options)

type options struct {
	logger  *zap.Logger
	dial    DialFunc
	sleep   sleepFunc
	metrics *Metrics
	blocks  []BlockDescriptor
}

func newOptions(opts []Option) *options {
	o := &options{
		dial:  dialTCP,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// WithLogger 設定日誌
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDialer 設定連線建立方式
func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		o.dial = dial
	}
}

// WithSleep 設定等待函式 (退避、間隔與關閉後的等待都經過此函式)
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithMetrics 設定指標收集器
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithBlocks 以自訂區塊列表取代預設的 OVUM 區塊
func WithBlocks(blocks []BlockDescriptor) Option {
	return func(o *options) {
		o.blocks = blocks
	}
}
