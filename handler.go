package main

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// RequestStats 模擬裝置的請求統計
type RequestStats struct {
	Requests atomic.Uint64
	Errors   atomic.Uint64
	Busy     atomic.Uint64
}

// RequestHandler 模擬裝置的 FC 03 處理器，支援故障注入
type RequestHandler struct {
	image  *RegisterImage
	logger *zap.Logger

	mu        sync.Mutex
	failing   map[uint16]struct{}
	busyRate  float64
	jitterMin time.Duration
	jitterMax time.Duration
	rng       *rand.Rand
	perAddr   map[uint16]uint64

	sleep func(time.Duration)
	stats RequestStats
}

// NewRequestHandler 建立請求處理器
func NewRequestHandler(image *RegisterImage, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		image:   image,
		logger:  logger,
		failing: make(map[uint16]struct{}),
		perAddr: make(map[uint16]uint64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   time.Sleep,
	}
}

// SetFailing 設定回應從站設備故障的起始位址
func (h *RequestHandler) SetFailing(addresses ...uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing = make(map[uint16]struct{}, len(addresses))
	for _, a := range addresses {
		h.failing[a] = struct{}{}
	}
}

// SetBusyRate 設定回應從站忙碌的比例 (0-1)
func (h *RequestHandler) SetBusyRate(rate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.busyRate = rate
}

// SetJitter 設定回應延遲抖動，max 為 0 時停用
func (h *RequestHandler) SetJitter(min, max time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jitterMin = min
	h.jitterMax = max
}

// Stats 取得統計資訊
func (h *RequestHandler) Stats() *RequestStats {
	return &h.stats
}

// RequestCount 取得某個起始位址收到的請求數
func (h *RequestHandler) RequestCount(address uint16) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perAddr[address]
}

// HandleReadHoldingRegisters 處理讀取保持暫存器請求 (FC 03)
//
// 返回暫存器值與異常碼，異常碼為 0 表示成功。
func (h *RequestHandler) HandleReadHoldingRegisters(address, quantity uint16) ([]uint16, uint8) {
	h.stats.Requests.Add(1)

	h.mu.Lock()
	h.perAddr[address]++
	_, failing := h.failing[address]
	busy := h.busyRate > 0 && h.rng.Float64() < h.busyRate
	var jitter time.Duration
	if h.jitterMax > 0 {
		jitter = h.jitterMin
		if span := h.jitterMax - h.jitterMin; span > 0 {
			jitter += time.Duration(h.rng.Int63n(int64(span)))
		}
	}
	h.mu.Unlock()

	if jitter > 0 {
		h.sleep(jitter)
	}

	if failing {
		h.stats.Errors.Add(1)
		h.logger.Debug("注入故障",
			zap.Uint16("address", address),
			zap.Uint16("quantity", quantity),
		)
		return nil, ExceptionCodeSlaveDeviceFailure
	}
	if busy {
		h.stats.Busy.Add(1)
		return nil, ExceptionCodeSlaveDeviceBusy
	}

	if quantity < 1 || quantity > MaxRegistersPerRead {
		h.stats.Errors.Add(1)
		return nil, ExceptionCodeIllegalDataValue
	}

	registers, err := h.image.ReadHoldingRegisters(address, quantity)
	if err != nil {
		h.stats.Errors.Add(1)
		h.logger.Debug("讀取保持暫存器失敗",
			zap.Uint16("address", address),
			zap.Uint16("quantity", quantity),
			zap.Error(err),
		)
		return nil, ExceptionCodeIllegalDataAddress
	}

	return registers, 0
}

// serveReadHoldingRegisters 以 mbserver 的介面包裝 FC 03 處理器
func (h *RequestHandler) serveReadHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	address := uint16(data[0])<<8 | uint16(data[1])
	quantity := uint16(data[2])<<8 | uint16(data[3])

	registers, code := h.HandleReadHoldingRegisters(address, quantity)
	if code != 0 {
		exc := mbserver.Exception(code)
		return []byte{}, &exc
	}

	return append([]byte{byte(len(registers) * 2)}, RegistersToBytes(registers)...), &mbserver.Success
}
