//go:build integration

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startSimulator 在本機非特權埠啟動模擬裝置
func startSimulator(t *testing.T, mutate func(*SimulatorConfig)) (*Simulator, DeviceConfig) {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	sc := testSimulatorConfig(t)
	if mutate != nil {
		mutate(&sc)
	}

	sim, err := NewSimulator(sc, DefaultBlocks(), logger)
	require.NoError(t, err)
	require.NoError(t, sim.Start(context.Background()))
	t.Cleanup(func() { _ = sim.Stop(context.Background()) })

	// 等待伺服器啟動
	time.Sleep(100 * time.Millisecond)

	dc := DefaultConfig().Device
	dc.Host = sc.Listen
	dc.Port = sc.Port
	return sim, dc
}

// fastPollerConfig 縮短延遲，讓重試在測試中很快完成
func fastPollerConfig() PollerConfig {
	cfg := DefaultConfig().Poller
	cfg.ConnectTimeout = 2 * time.Second
	cfg.RequestTimeout = 2 * time.Second
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 50 * time.Millisecond
	cfg.InterReadDelay = 5 * time.Millisecond
	cfg.CloseSettleDelay = 5 * time.Millisecond
	return cfg
}

func TestPollerAgainstSimulator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	sim, dc := startSimulator(t, nil)
	logger, _ := zap.NewDevelopment()

	p, err := NewPoller(dc, fastPollerConfig(), WithLogger(logger), WithMetrics(NewMetrics()))
	require.NoError(t, err)
	defer p.Close(context.Background())

	ctx := context.Background()

	t.Run("FullCycle", func(t *testing.T) {
		snapshot, err := p.Poll(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(1234), snapshot[FirmwareKey])
		assert.Equal(t, "Heizbetrieb", snapshot["wp_status"])
		assert.Equal(t, "TCP", snapshot["sg_ready_modus"])
		assert.InDelta(t, 5420, snapshot["waermeleistung"], 1e-9)
		assert.InDelta(t, -2.5, snapshot["aussentemperatur_gemittelt"], 1e-9)

		for i := range p.Blocks() {
			for _, key := range p.Blocks()[i].Keys() {
				assert.Contains(t, snapshot, key)
			}
		}
	})

	t.Run("FirmwareCached", func(t *testing.T) {
		_, err := p.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), sim.Handler().RequestCount(FirmwareAddress))
	})

	t.Run("Defrost", func(t *testing.T) {
		require.NoError(t, sim.ApplyScenario(ScenarioDefrost))
		defer sim.ApplyScenario(ScenarioNormal)

		snapshot, err := p.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Abtauung", snapshot["wp_status"])
		assert.Equal(t, int64(1), snapshot["abtaustatus"])
	})

	t.Run("FailingBlock", func(t *testing.T) {
		require.NoError(t, sim.FailBlocks("pv_watch"))
		defer sim.FailBlocks()

		before := sim.Handler().RequestCount(449)
		snapshot, err := p.Poll(ctx)

		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		require.Len(t, cycleErr.Failures, 1)
		assert.Equal(t, "pv_watch", cycleErr.Failures[0].Block)

		var mbErr *ModbusError
		require.True(t, errors.As(err, &mbErr))
		assert.Equal(t, uint8(ExceptionCodeSlaveDeviceFailure), mbErr.Code)

		assert.NotContains(t, snapshot, "pv_watch_messwert")
		assert.Contains(t, snapshot, "wp_status")
		assert.Equal(t, uint64(3), sim.Handler().RequestCount(449)-before)
	})
}

func TestPollerConnectionRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dc := DefaultConfig().Device
	dc.Port = freePort(t)

	p, err := NewPoller(dc, fastPollerConfig())
	require.NoError(t, err)
	defer p.Close(context.Background())

	snapshot, err := p.Poll(context.Background())

	assert.Nil(t, snapshot)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestSchedulerAgainstSimulator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	_, dc := startSimulator(t, func(sc *SimulatorConfig) {
		sc.UpdateInterval = 20 * time.Millisecond
	})
	dc.ScanInterval = 50 * time.Millisecond

	p, err := NewPoller(dc, fastPollerConfig())
	require.NoError(t, err)

	s := NewScheduler(p, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan Snapshot, 8)
	s.Subscribe(func(snap Snapshot) {
		select {
		case received <- snap:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case snap := <-received:
			assert.Contains(t, snap, "wp_status")
		case <-ctx.Done():
			t.Fatal("沒有收到快照")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.True(t, s.Status().Available)
}

func BenchmarkPollCycle(b *testing.B) {
	sc := DefaultConfig().Simulator
	sc.Listen = "127.0.0.1"
	sc.Port = 5502
	sc.UpdateInterval = 0

	sim, err := NewSimulator(sc, DefaultBlocks(), zap.NewNop())
	if err != nil {
		b.Fatal(err)
	}
	if err := sim.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer sim.Stop(context.Background())

	dc := DefaultConfig().Device
	dc.Port = sc.Port
	cfg := fastPollerConfig()
	cfg.InterReadDelay = 0
	cfg.CloseAfterCycle = false

	p, err := NewPoller(dc, cfg)
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close(context.Background())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Poll(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
