package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// freePort 取得一個可用的本機 TCP 埠
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testSimulatorConfig(t *testing.T) SimulatorConfig {
	sc := DefaultConfig().Simulator
	sc.Listen = "127.0.0.1"
	sc.Port = freePort(t)
	sc.UpdateInterval = 0
	return sc
}

func TestSimulatorState_String(t *testing.T) {
	assert.Equal(t, "stopped", SimulatorStopped.String())
	assert.Equal(t, "starting", SimulatorStarting.String())
	assert.Equal(t, "running", SimulatorRunning.String())
	assert.Equal(t, "stopping", SimulatorStopping.String())
	assert.Equal(t, "unknown", SimulatorState(9).String())
}

func TestNewSimulator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SimulatorConfig)
	}{
		{"unknown scenario", func(sc *SimulatorConfig) { sc.Scenario = "meltdown" }},
		{"unknown failing block", func(sc *SimulatorConfig) { sc.FailingBlocks = []string{"nope"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := testSimulatorConfig(t)
			tt.mutate(&sc)
			_, err := NewSimulator(sc, DefaultBlocks(), zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestBlockAddresses(t *testing.T) {
	got, err := blockAddresses([]string{"firmware", "status", "pv_watch"}, DefaultBlocks())
	require.NoError(t, err)
	assert.Equal(t, []uint16{FirmwareAddress, 1999, 449}, got)

	got, err = blockAddresses(nil, DefaultBlocks())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSimulator_FailBlocks(t *testing.T) {
	sc := testSimulatorConfig(t)
	sc.FailingBlocks = []string{"status"}
	sim, err := NewSimulator(sc, DefaultBlocks(), nil)
	require.NoError(t, err)

	_, code := sim.Handler().HandleReadHoldingRegisters(1999, 1)
	assert.Equal(t, uint8(ExceptionCodeSlaveDeviceFailure), code)

	require.NoError(t, sim.FailBlocks())
	_, code = sim.Handler().HandleReadHoldingRegisters(1999, 1)
	assert.Zero(t, code)
}

func TestSimulator_ApplyScenario(t *testing.T) {
	sim, err := NewSimulator(testSimulatorConfig(t), DefaultBlocks(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ScenarioNormal, sim.Scenario())

	require.NoError(t, sim.ApplyScenario(ScenarioDefrost))

	assert.Equal(t, ScenarioDefrost, sim.Scenario())
	words, err := sim.Image().ReadHoldingRegisters(1149, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1}, words)
}

func TestSimulator_StartStop(t *testing.T) {
	sc := testSimulatorConfig(t)
	sc.UpdateInterval = 10 * time.Millisecond
	sim, err := NewSimulator(sc, DefaultBlocks(), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sim.Start(ctx))
	assert.Equal(t, SimulatorRunning, sim.State())
	assert.Error(t, sim.Start(ctx), "重複啟動應失敗")

	handler := modbus.NewTCPClientHandler(sim.Addr())
	handler.SlaveId = DefaultUnitID
	handler.Timeout = 2 * time.Second
	require.NoError(t, handler.Connect())
	defer handler.Close()

	client := modbus.NewClient(handler)
	data, err := client.ReadHoldingRegisters(FirmwareAddress, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1234}, RegistersFromBytes(data))

	_, err = client.ReadHoldingRegisters(0, 200)
	assert.Error(t, err, "數量超過上限時回應異常")

	require.NoError(t, sim.Stop(ctx))
	assert.Equal(t, SimulatorStopped, sim.State())
	assert.NoError(t, sim.Stop(ctx), "重複停止無副作用")
	assert.GreaterOrEqual(t, sim.Handler().Stats().Requests.Load(), uint64(1))
}
