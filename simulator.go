package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// SimulatorState 模擬裝置狀態
type SimulatorState int32

const (
	SimulatorStopped SimulatorState = iota
	SimulatorStarting
	SimulatorRunning
	SimulatorStopping
)

func (s SimulatorState) String() string {
	switch s {
	case SimulatorStopped:
		return "stopped"
	case SimulatorStarting:
		return "starting"
	case SimulatorRunning:
		return "running"
	case SimulatorStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Simulator 模擬的 OVUM 控制器 (Modbus TCP 從站)
type Simulator struct {
	mu sync.RWMutex

	addr    string
	blocks  []BlockDescriptor
	fields  fieldIndex
	image   *RegisterImage
	handler *RequestHandler
	server  *mbserver.Server

	state     atomic.Int32
	startTime time.Time

	// 場景
	scenario       ScenarioType
	updateInterval time.Duration
	scenarioStop   context.CancelFunc
	scenarioDone   chan struct{}
	rng            *rand.Rand

	logger *zap.Logger
}

// NewSimulator 建立模擬裝置，暫存器以典型運轉值初始化
func NewSimulator(cfg SimulatorConfig, blocks []BlockDescriptor, logger *zap.Logger) (*Simulator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	image, err := DefaultRegisterImage(cfg.Firmware, blocks)
	if err != nil {
		return nil, fmt.Errorf("建立暫存器映像失敗: %w", err)
	}
	scenario, err := ParseScenarioType(cfg.Scenario)
	if err != nil {
		return nil, err
	}

	h := NewRequestHandler(image, logger)
	h.SetBusyRate(cfg.BusyRate)
	h.SetJitter(cfg.JitterMin, cfg.JitterMax)

	s := &Simulator{
		addr:           net.JoinHostPort(cfg.Listen, strconv.Itoa(cfg.Port)),
		blocks:         blocks,
		fields:         newFieldIndex(blocks),
		image:          image,
		handler:        h,
		scenario:       scenario,
		updateInterval: cfg.UpdateInterval,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:         logger,
	}

	if err := s.FailBlocks(cfg.FailingBlocks...); err != nil {
		return nil, err
	}
	return s, nil
}

// Start 開始監聽
func (s *Simulator) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(SimulatorStopped), int32(SimulatorStarting)) {
		return fmt.Errorf("模擬裝置 %s 已經在運行中", s.addr)
	}

	s.server = mbserver.NewServer()
	s.server.RegisterFunctionHandler(FuncCodeReadHoldingRegisters, s.handler.serveReadHoldingRegisters)

	// ListenTCP 同步建立 listener，內部以 goroutine accept
	s.startTime = time.Now()
	if err := s.server.ListenTCP(s.addr); err != nil {
		s.state.Store(int32(SimulatorStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", s.addr, err)
	}

	if s.updateInterval > 0 {
		scenarioCtx, cancel := context.WithCancel(ctx)
		s.scenarioStop = cancel
		s.scenarioDone = make(chan struct{})
		go s.runScenarioUpdater(scenarioCtx)
	}

	s.state.Store(int32(SimulatorRunning))
	s.logger.Info("模擬裝置已啟動",
		zap.String("addr", s.addr),
		zap.Stringer("scenario", s.Scenario()),
	)
	return nil
}

// Stop 停止監聽，重複呼叫無副作用
func (s *Simulator) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(SimulatorRunning), int32(SimulatorStopping)) {
		return nil
	}

	if s.scenarioStop != nil {
		s.scenarioStop()
		select {
		case <-s.scenarioDone:
		case <-ctx.Done():
		}
	}
	if s.server != nil {
		s.server.Close()
	}
	s.state.Store(int32(SimulatorStopped))

	stats := s.handler.Stats()
	s.logger.Info("模擬裝置已停止",
		zap.String("addr", s.addr),
		zap.Duration("uptime", time.Since(s.startTime)),
		zap.Uint64("requests", stats.Requests.Load()),
		zap.Uint64("errors", stats.Errors.Load()),
		zap.Uint64("busy", stats.Busy.Load()),
	)
	return nil
}

// State 取得當前狀態
func (s *Simulator) State() SimulatorState {
	return SimulatorState(s.state.Load())
}

// Addr 取得監聽位址
func (s *Simulator) Addr() string {
	return s.addr
}

// Image 取得暫存器映像
func (s *Simulator) Image() *RegisterImage {
	return s.image
}

// Handler 取得請求處理器 (用於故障注入)
func (s *Simulator) Handler() *RequestHandler {
	return s.handler
}

// ApplyScenario 切換場景並立即更新暫存器
func (s *Simulator) ApplyScenario(scenario ScenarioType) error {
	s.mu.Lock()
	s.scenario = scenario
	s.mu.Unlock()
	return s.updateByScenario()
}

// Scenario 取得當前場景
func (s *Simulator) Scenario() ScenarioType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scenario
}

// FailBlocks 讓指定名稱的區塊回應從站設備故障，不帶參數時清除
func (s *Simulator) FailBlocks(names ...string) error {
	addresses, err := blockAddresses(names, s.blocks)
	if err != nil {
		return err
	}
	s.handler.SetFailing(addresses...)
	if len(addresses) > 0 {
		s.logger.Info("已設定故障區塊", zap.Strings("blocks", names))
	}
	return nil
}

// runScenarioUpdater 定期依場景更新暫存器
func (s *Simulator) runScenarioUpdater(ctx context.Context) {
	defer close(s.scenarioDone)

	ticker := time.NewTicker(s.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.updateByScenario(); err != nil {
				s.logger.Warn("場景更新失敗", zap.Error(err))
			}
		}
	}
}

// updateByScenario 根據場景更新暫存器值
func (s *Simulator) updateByScenario() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler := GetScenarioHandler(s.scenario)
	if handler == nil {
		return fmt.Errorf("未註冊的場景: %s", s.scenario)
	}
	return handler.Update(s.image, s.fields, s.rng)
}

// blockAddresses 將區塊名稱轉為起始位址 (含韌體區塊)
func blockAddresses(names []string, blocks []BlockDescriptor) ([]uint16, error) {
	byName := make(map[string]uint16, len(blocks)+1)
	byName[FirmwareBlock.Name] = FirmwareBlock.Address
	for _, b := range blocks {
		byName[b.Name] = b.Address
	}

	out := make([]uint16, 0, len(names))
	for _, n := range names {
		addr, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("未知的區塊: %s", n)
		}
		out = append(out, addr)
	}
	return out, nil
}
