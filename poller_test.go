package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testDevice() DeviceConfig {
	return DeviceConfig{
		Name:         DefaultDeviceName,
		Host:         testEndpoint.Host,
		Port:         testEndpoint.Port,
		UnitID:       testEndpoint.UnitID,
		ScanInterval: DefaultScanInterval,
	}
}

func newTestPoller(t *testing.T, dev *fakeDevice, cfg PollerConfig, opts ...Option) (*Poller, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append([]Option{
		WithDialer(dev.dial),
		WithSleep(rec.sleep),
		WithLogger(zap.NewNop()),
	}, opts...)
	p, err := NewPoller(testDevice(), cfg, opts...)
	require.NoError(t, err)
	return p, rec
}

func TestPoller_Poll_DecodesAllBlocks(t *testing.T) {
	dev := newFakeDevice(t)
	p, _ := newTestPoller(t, dev, testPollerConfig())

	snapshot, err := p.Poll(context.Background())
	require.NoError(t, err)

	tests := []struct {
		key  string
		want any
	}{
		{FirmwareKey, int64(1234)},
		{"pumpe_hk1_num", int64(1)},
		{"pumpe_hk1", "Ein"},
		{"betriebsstuden_kompressor", int64(8123)},
		{"waermeleistung", 5420.0},
		{"waermepumpenaustritt", 38.5},
		{"aussentemperatur_gemittelt", -2.5},
		{"pumpe_fws_ausgang", 35.5},
		{"pv_watch_messwert", -1250.0},
		{"sollwert_pvwatch_tcp", -500.0},
		{"betriebsart_warmwasser", "Zeitprogramm"},
		{"betriebsart_hk1", "Heizen"},
		{"betriebsart_hk2", "Inaktiv"},
		{"kombiausgang_pupu_modi", "Warmwasser"},
		{"sg_ready_modus", "TCP"},
		{"wp_status_num", int64(8)},
		{"wp_status", "Heizbetrieb"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.Contains(t, snapshot, tt.key)
			if f, ok := tt.want.(float64); ok {
				assert.InDelta(t, f, snapshot[tt.key], 1e-9)
				return
			}
			assert.Equal(t, tt.want, snapshot[tt.key])
		})
	}

	for i := range p.Blocks() {
		for _, key := range p.Blocks()[i].Keys() {
			assert.Contains(t, snapshot, key)
		}
	}
}

func TestPoller_Firmware_ReadOnce(t *testing.T) {
	dev := newFakeDevice(t)
	p, _ := newTestPoller(t, dev, testPollerConfig())

	_, ok := p.Firmware()
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		snapshot, err := p.Poll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1234), snapshot[FirmwareKey])
	}

	fw, ok := p.Firmware()
	assert.True(t, ok)
	assert.Equal(t, int64(1234), fw)
	assert.Equal(t, 1, dev.readsOf(FirmwareAddress))
}

func TestPoller_Firmware_RetriedUntilSuccess(t *testing.T) {
	dev := newFakeDevice(t)
	dev.failAlways(FirmwareAddress)
	p, _ := newTestPoller(t, dev, testPollerConfig())

	snapshot, err := p.Poll(context.Background())
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "firmware", cycleErr.Failures[0].Block)
	assert.NotContains(t, snapshot, FirmwareKey)
	assert.Contains(t, snapshot, "wp_status")

	dev.failTimes(FirmwareAddress, 0)
	snapshot, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1234), snapshot[FirmwareKey])
}

func TestPoller_Poll_PartialCycle(t *testing.T) {
	dev := newFakeDevice(t)
	dev.failAlways(449)
	p, _ := newTestPoller(t, dev, testPollerConfig())

	snapshot, err := p.Poll(context.Background())

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Len(t, cycleErr.Failures, 1)
	assert.Equal(t, "pv_watch", cycleErr.Failures[0].Block)
	assert.Equal(t, uint16(449), cycleErr.Failures[0].Address)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)

	assert.NotContains(t, snapshot, "autarkiegrad_ueberschussbetrieb")
	assert.NotContains(t, snapshot, "pv_watch_messwert")
	assert.Contains(t, snapshot, "waermeleistung")
	assert.Contains(t, snapshot, "wp_status")
	assert.Equal(t, 3, dev.readsOf(449))
}

func TestPoller_Poll_ConnectFailure(t *testing.T) {
	dev := newFakeDevice(t)
	dev.connectErr = assert.AnError
	p, _ := newTestPoller(t, dev, testPollerConfig())

	snapshot, err := p.Poll(context.Background())

	assert.Nil(t, snapshot)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, dev.reads)
}

func TestPoller_ReadBlock_DecodeFailureContained(t *testing.T) {
	dev := newFakeDevice(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	m := NewMetrics()
	p, _ := newTestPoller(t, dev, testPollerConfig(), WithLogger(zap.New(core)), WithMetrics(m))

	// 宣告 1 個暫存器但欄位需要 2 個，解碼時游標越界
	broken := &BlockDescriptor{
		Name: "broken", Address: 1999, Count: 1,
		Fields: []FieldDescriptor{FieldAs("broken_value", MethodInt32, 1)},
	}

	data, err := p.readBlock(context.Background(), broken)

	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)
	assert.Equal(t, 1, logs.FilterMessage("解碼區塊失敗").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockReads.WithLabelValues("broken", string(blockDecodeError))))
}

func TestPoller_Poll_LastWriteWins(t *testing.T) {
	dev := newFakeDevice(t)
	blocks := []BlockDescriptor{
		{Name: "first", Address: 1999, Count: 1, Fields: []FieldDescriptor{Field("value")}},
		{Name: "second", Address: 749, Count: 1, Fields: []FieldDescriptor{Field("value")}},
	}
	p, _ := newTestPoller(t, dev, testPollerConfig(), WithBlocks(blocks))

	snapshot, err := p.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot["value"], "後讀取的區塊覆蓋先前的值")
}

func TestPoller_Poll_Pacing(t *testing.T) {
	dev := newFakeDevice(t)
	p, rec := newTestPoller(t, dev, testPollerConfig())
	delay := testPollerConfig().InterReadDelay

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(p.Blocks()), rec.count(delay), "第一個週期含韌體讀取")

	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2*len(p.Blocks())-1, rec.count(delay))
}

func TestPoller_CloseAfterCycle(t *testing.T) {
	tests := []struct {
		name      string
		close     bool
		wantState SessionState
		connects  int
	}{
		{"close after every cycle", true, SessionDisconnected, 2},
		{"keep connection", false, SessionConnected, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(t)
			cfg := testPollerConfig()
			cfg.CloseAfterCycle = tt.close
			p, _ := newTestPoller(t, dev, cfg)

			for i := 0; i < 2; i++ {
				_, err := p.Poll(context.Background())
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantState, p.Session().State())
			connects, _ := dev.counts()
			assert.Equal(t, tt.connects, connects)
		})
	}
}

func TestPoller_Poll_CycleInProgress(t *testing.T) {
	dev := newFakeDevice(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sleep := func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}
	p, _ := newTestPoller(t, dev, testPollerConfig(), WithSleep(sleep))

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = p.Poll(context.Background())
	}()

	<-entered
	_, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)
}

func TestPoller_Close(t *testing.T) {
	dev := newFakeDevice(t)
	p, _ := newTestPoller(t, dev, testPollerConfig())

	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	p.Close(context.Background())
	p.Close(context.Background())

	assert.Equal(t, SessionClosed, p.Session().State())

	_, err = p.Poll(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestPoller_UpdateEndpoint(t *testing.T) {
	dev := newFakeDevice(t)
	p, _ := newTestPoller(t, dev, testPollerConfig())
	ctx := context.Background()

	require.NoError(t, p.UpdateEndpoint(ctx, "192.168.1.60", 5020, 1, 30*time.Second))

	assert.Equal(t, 30*time.Second, p.Interval())
	assert.Equal(t, Endpoint{Host: "192.168.1.60", Port: 5020, UnitID: 1}, p.Session().Endpoint())

	_, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "192.168.1.60", Port: 5020, UnitID: 1}, dev.dialed[len(dev.dialed)-1])
}

func TestPoller_ScaleOverrides(t *testing.T) {
	dev := newFakeDevice(t)
	cfg := testPollerConfig()
	cfg.ScaleOverrides = map[string]float64{"waermeleistung": ScaleHeatOutputAlt}
	p, _ := newTestPoller(t, dev, cfg)

	snapshot, err := p.Poll(context.Background())

	require.NoError(t, err)
	// 映像以 ×10 編碼 5420 (原始值 542)
	assert.InDelta(t, 5.42, snapshot["waermeleistung"], 1e-9)
}

func TestPoller_Metrics_FailedBlockNotExported(t *testing.T) {
	dev := newFakeDevice(t)
	m := NewMetrics()
	p, _ := newTestPoller(t, dev, testPollerConfig(), WithMetrics(m))

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	before := exportedFields(t, m)
	require.Contains(t, before, "pv_watch_messwert")

	dev.failAlways(449)
	snapshot, err := p.Poll(context.Background())
	require.Error(t, err)
	require.NotContains(t, snapshot, "pv_watch_messwert")

	after := exportedFields(t, m)
	assert.NotContains(t, after, "pv_watch_messwert")
	assert.Contains(t, after, "waermepumpenaustritt")
	assert.Less(t, len(after), len(before))
}

func TestNewPoller_InvalidDevice(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DeviceConfig)
	}{
		{"zero scan interval", func(d *DeviceConfig) { d.ScanInterval = 0 }},
		{"empty host", func(d *DeviceConfig) { d.Host = "" }},
		{"unit id out of range", func(d *DeviceConfig) { d.UnitID = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := testDevice()
			tt.mutate(&dev)
			_, err := NewPoller(dev, testPollerConfig())
			assert.Error(t, err)
		})
	}
}

func TestNewPoller_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*PollerConfig)
		opts []Option
	}{
		{
			name: "unknown override",
			cfg:  func(c *PollerConfig) { c.ScaleOverrides = map[string]float64{"nope": 2} },
		},
		{
			name: "zero override",
			cfg:  func(c *PollerConfig) { c.ScaleOverrides = map[string]float64{"waermeleistung": 0} },
		},
		{
			name: "block count mismatch",
			cfg:  func(c *PollerConfig) {},
			opts: []Option{WithBlocks([]BlockDescriptor{
				{Name: "bad", Address: 10, Count: 2, Fields: []FieldDescriptor{Field("x")}},
			})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testPollerConfig()
			tt.cfg(&cfg)
			_, err := NewPoller(testDevice(), cfg, tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestPoller_Metrics(t *testing.T) {
	dev := newFakeDevice(t)
	dev.failTimes(1999, 1)
	m := NewMetrics()
	p, _ := newTestPoller(t, dev, testPollerConfig(), WithMetrics(m))

	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues(string(cycleOK))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockReads.WithLabelValues("status", string(blockOK))))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.fieldValues.WithLabelValues("wp_status_num", "")))
	assert.InDelta(t, 38.5, testutil.ToFloat64(m.fieldValues.WithLabelValues("waermepumpenaustritt", "°C")), 1e-9)
}
