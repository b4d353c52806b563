package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrCycleInProgress 同一個 Poller 不允許並行的輪詢週期
var ErrCycleInProgress = errors.New("輪詢週期進行中")

// Poller 驅動輪詢週期：確保連線、依序讀取所有區塊並合併成快照
type Poller struct {
	cycleMu sync.Mutex

	session *Session
	blocks  []BlockDescriptor

	interReadDelay  time.Duration
	shutdownTimeout time.Duration
	closeAfterCycle bool

	// 韌體識別碼只在第一次成功讀取後快取
	fwMu     sync.RWMutex
	firmware Snapshot
	closed   atomic.Bool

	sleep   sleepFunc
	logger  *zap.Logger
	metrics *Metrics
}

// NewPoller 建立 Poller
func NewPoller(dev DeviceConfig, cfg PollerConfig, opts ...Option) (*Poller, error) {
	if err := dev.Validate(); err != nil {
		return nil, fmt.Errorf("裝置配置無效: %w", err)
	}
	o := newOptions(opts)

	blocks := o.blocks
	if blocks == nil {
		blocks = DefaultBlocks()
	}
	blocks, err := ApplyScaleOverrides(blocks, cfg.ScaleOverrides)
	if err != nil {
		return nil, err
	}
	for i := range blocks {
		if err := blocks[i].Validate(); err != nil {
			return nil, fmt.Errorf("區塊定義無效: %w", err)
		}
	}

	return &Poller{
		session:         NewSession(dev.Endpoint(), dev.ScanInterval, cfg, opts...),
		blocks:          blocks,
		interReadDelay:  cfg.InterReadDelay,
		shutdownTimeout: cfg.ShutdownTimeout,
		closeAfterCycle: cfg.CloseAfterCycle,
		sleep:           o.sleep,
		logger:          o.logger,
		metrics:         o.metrics,
	}, nil
}

// Session 取得底層 Session
func (p *Poller) Session() *Session {
	return p.session
}

// Blocks 取得區塊列表
func (p *Poller) Blocks() []BlockDescriptor {
	return p.blocks
}

// Interval 取得目前的輪詢間隔
func (p *Poller) Interval() time.Duration {
	return p.session.Interval()
}

// Firmware 取得快取的韌體識別碼
func (p *Poller) Firmware() (int64, bool) {
	p.fwMu.RLock()
	defer p.fwMu.RUnlock()
	v, ok := p.firmware[FirmwareKey].(int64)
	return v, ok
}

// Poll 執行一次完整輪詢週期
//
// 無法建立連線時返回 *ConnectionError。任何區塊用盡重試時仍返回其餘區塊的快照，
// 並附帶 *CycleError。解碼失敗只影響該區塊，不算週期失敗。
func (p *Poller) Poll(ctx context.Context) (Snapshot, error) {
	if p.closed.Load() {
		return nil, &ConnectionError{Endpoint: p.session.Endpoint().String(), Err: ErrSessionClosed}
	}
	if !p.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer p.cycleMu.Unlock()

	start := time.Now()
	if p.closeAfterCycle {
		defer p.session.Close()
	}

	if err := p.session.EnsureConnected(ctx); err != nil {
		p.metrics.cycleDone(cycleFailed, time.Since(start), nil)
		return nil, err
	}

	var failures []BlockFailure
	reads := 0

	if len(p.firmware) == 0 {
		reads++
		data, err := p.readBlock(ctx, &FirmwareBlock)
		switch {
		case err != nil:
			failures = append(failures, BlockFailure{Block: FirmwareBlock.Name, Address: FirmwareBlock.Address, Err: err})
		case len(data) > 0:
			p.fwMu.Lock()
			p.firmware = data
			p.fwMu.Unlock()
			p.logger.Info("已讀取韌體版本", zap.Any("firmware", data[FirmwareKey]))
		}
	}

	snapshot := make(Snapshot)
	snapshot.Merge(p.firmware)

	for i := range p.blocks {
		b := &p.blocks[i]

		if reads > 0 {
			if err := p.sleep(ctx, p.interReadDelay); err != nil {
				p.metrics.cycleDone(cycleFailed, time.Since(start), nil)
				return nil, err
			}
		}
		reads++

		data, err := p.readBlock(ctx, b)
		if err != nil {
			failures = append(failures, BlockFailure{Block: b.Name, Address: b.Address, Err: err})
			continue
		}
		snapshot.Merge(data)
	}

	if len(failures) > 0 {
		p.metrics.cycleDone(cyclePartial, time.Since(start), snapshot)
		p.logger.Warn("輪詢週期完成，部分區塊失敗",
			zap.Int("failed_blocks", len(failures)),
			zap.Int("fields", len(snapshot)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return snapshot, &CycleError{Failures: failures}
	}

	p.metrics.cycleDone(cycleOK, time.Since(start), snapshot)
	p.logger.Debug("輪詢週期完成",
		zap.Int("fields", len(snapshot)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return snapshot, nil
}

// readBlock 讀取並解碼單一區塊
//
// 讀取用盡重試時返回錯誤；解碼失敗時返回空結果，區塊要嘛完整成功要嘛不貢獻任何欄位。
func (p *Poller) readBlock(ctx context.Context, b *BlockDescriptor) (Snapshot, error) {
	words, err := p.session.TryReadRegisters(ctx, b.Address, b.Count)
	if err != nil {
		p.metrics.blockRead(b.Name, blockFailed)
		p.logger.Error("讀取區塊失敗",
			zap.String("block", b.Name),
			zap.Uint16("address", b.Address),
			zap.Error(err),
		)
		return nil, err
	}

	data, err := DecodeBlock(b, words)
	if err != nil {
		p.metrics.blockRead(b.Name, blockDecodeError)
		p.logger.Error("解碼區塊失敗",
			zap.String("block", b.Name),
			zap.Uint16("address", b.Address),
			zap.Error(err),
		)
		return Snapshot{}, nil
	}

	applyLabels(data, b.Labels)
	p.metrics.blockRead(b.Name, blockOK)
	return data, nil
}

// UpdateEndpoint 套用新的連線設定
func (p *Poller) UpdateEndpoint(ctx context.Context, host string, port int, unitID uint8, interval time.Duration) error {
	return p.session.UpdateEndpoint(ctx, Endpoint{Host: host, Port: port, UnitID: unitID}, interval)
}

// Close 關閉 Poller，最多等待 shutdownTimeout
func (p *Poller) Close(ctx context.Context) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.session.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Poller 已關閉")
	case <-ctx.Done():
		p.logger.Warn("關閉 Poller 逾時", zap.Duration("timeout", p.shutdownTimeout))
	}
}
