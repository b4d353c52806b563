package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goburrow/modbus"
)

var (
	// ErrSessionClosed Session 已關閉，不可再使用
	ErrSessionClosed = errors.New("session 已關閉")

	// ErrNotConnected 尚未建立連線
	ErrNotConnected = errors.New("尚未連線")
)

// ConnectionError 無法建立或重建傳輸連線
type ConnectionError struct {
	Endpoint string
	Address  uint16
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString("連線錯誤")
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " (%s)", e.Endpoint)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, ": 位址 %d 讀取 %d 次後失敗", e.Address, e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError 回應缺失、帶有錯誤旗標或長度不符
type ProtocolError struct {
	Address uint16
	Count   uint16
	Got     int
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("協議錯誤: 位址 %d 數量 %d: %v", e.Address, e.Count, e.Err)
	}
	return fmt.Sprintf("協議錯誤: 位址 %d 期望 %d 個暫存器，收到 %d 個", e.Address, e.Count, e.Got)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DecodeError 欄位解碼時游標越界或方法無效
type DecodeError struct {
	Block  string
	Key    string
	Cursor int
	Words  int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("解碼錯誤: 區塊 %s 欄位 %q (游標 %d / %d): %s", e.Block, e.Key, e.Cursor, e.Words, e.Reason)
}

// BlockFailure 單一區塊在重試預算內仍讀取失敗
type BlockFailure struct {
	Block   string
	Address uint16
	Err     error
}

// CycleError 一次輪詢週期中有區塊讀取失敗
type CycleError struct {
	Failures []BlockFailure
}

func (e *CycleError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, fmt.Sprintf("%s@%d", f.Block, f.Address))
	}
	return fmt.Sprintf("輪詢週期有 %d 個區塊失敗: %s", len(e.Failures), strings.Join(names, ", "))
}

func (e *CycleError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ModbusError Modbus 異常回應
type ModbusError struct {
	Function uint8
	Code     uint8
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus 異常 (功能碼 0x%02X, 異常碼 %d): %s", e.Function, e.Code, exceptionText(e.Code))
}

// asModbusError 將 goburrow 的異常轉換為 ModbusError
func asModbusError(err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &ModbusError{Function: mbErr.FunctionCode, Code: mbErr.ExceptionCode}
	}
	return err
}

// isRetryable 判斷錯誤是否可透過重連重試
func isRetryable(err error) bool {
	var connErr *ConnectionError
	var protoErr *ProtocolError
	return errors.As(err, &connErr) || errors.As(err, &protoErr)
}
