package main

import (
	"fmt"
	"math/rand"
	"sync"
)

// ScenarioType 模擬裝置的運轉場景
type ScenarioType int

const (
	ScenarioNormal ScenarioType = iota
	ScenarioDefrost
	ScenarioAlarm
)

func (s ScenarioType) String() string {
	switch s {
	case ScenarioNormal:
		return "normal"
	case ScenarioDefrost:
		return "defrost"
	case ScenarioAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// ParseScenarioType 解析場景類型
func ParseScenarioType(s string) (ScenarioType, error) {
	switch s {
	case "normal", "":
		return ScenarioNormal, nil
	case "defrost":
		return ScenarioDefrost, nil
	case "alarm":
		return ScenarioAlarm, nil
	default:
		return ScenarioNormal, fmt.Errorf("未知的場景: %s", s)
	}
}

// fieldIndex 欄位名稱到所屬區塊的索引
type fieldIndex map[string]*BlockDescriptor

func newFieldIndex(blocks []BlockDescriptor) fieldIndex {
	idx := make(fieldIndex)
	for i := range blocks {
		b := &blocks[i]
		for _, f := range b.Fields {
			if f.Key != "" && b.method(f) != MethodSkip {
				idx[f.Key] = b
			}
		}
	}
	return idx
}

// set 寫入單一欄位
func (idx fieldIndex) set(image *RegisterImage, key string, value float64) error {
	b, ok := idx[key]
	if !ok {
		return fmt.Errorf("未知的欄位: %s", key)
	}
	return image.SetValue(b, key, value)
}

// ScenarioHandler 場景處理介面
type ScenarioHandler interface {
	Type() ScenarioType
	Update(image *RegisterImage, idx fieldIndex, rng *rand.Rand) error
}

// 場景處理器註冊表
var (
	scenarioHandlers   = make(map[ScenarioType]ScenarioHandler)
	scenarioHandlersMu sync.RWMutex
)

func init() {
	RegisterScenarioHandler(&NormalScenario{})
	RegisterScenarioHandler(&DefrostScenario{})
	RegisterScenarioHandler(&AlarmScenario{})
}

// RegisterScenarioHandler 註冊場景處理器
func RegisterScenarioHandler(handler ScenarioHandler) {
	scenarioHandlersMu.Lock()
	defer scenarioHandlersMu.Unlock()
	scenarioHandlers[handler.Type()] = handler
}

// GetScenarioHandler 取得場景處理器
func GetScenarioHandler(scenarioType ScenarioType) ScenarioHandler {
	scenarioHandlersMu.RLock()
	defer scenarioHandlersMu.RUnlock()
	return scenarioHandlers[scenarioType]
}

// fluctuating 正常運轉時小幅波動的欄位與振幅
var fluctuating = map[string]float64{
	"waermepumpenaustritt":        0.3,
	"waermepumpeneintritt":        0.3,
	"temperatur_wwspeicher_oben":  0.2,
	"temperatur_wwspeicher_unten": 0.2,
	"vorlauftemperatur_hk1":       0.3,
	"ruecklauftemperatur_hk1":     0.3,
	"aussentemperatur_gemittelt":  0.1,
	"waermeleistung":              150,
	"el_leistung_wp":              40,
	"pv_watch_messwert":           200,
}

// NormalScenario 正常場景，量測值在典型值附近波動
type NormalScenario struct{}

func (s *NormalScenario) Type() ScenarioType {
	return ScenarioNormal
}

func (s *NormalScenario) Update(image *RegisterImage, idx fieldIndex, rng *rand.Rand) error {
	for key, amplitude := range fluctuating {
		base, ok := sampleValues[key]
		if !ok {
			continue
		}
		if err := idx.set(image, key, base+(rng.Float64()*2-1)*amplitude); err != nil {
			return err
		}
	}
	return resetStatus(image, idx)
}

// resetStatus 回到正常的暖氣運轉狀態
func resetStatus(image *RegisterImage, idx fieldIndex) error {
	for _, key := range []string{"abtaustatus", "anzahl_aktive_alarme", "max_neustarts_erreicht", "wp_status_num"} {
		if err := idx.set(image, key, sampleValues[key]); err != nil {
			return err
		}
	}
	return nil
}

// DefrostScenario 除霜中，暫停供熱
type DefrostScenario struct{}

func (s *DefrostScenario) Type() ScenarioType {
	return ScenarioDefrost
}

func (s *DefrostScenario) Update(image *RegisterImage, idx fieldIndex, rng *rand.Rand) error {
	values := map[string]float64{
		"abtaustatus":          1,
		"wp_status_num":        11,
		"waermeleistung":       0,
		"waermepumpenaustritt": 18 + rng.Float64(),
	}
	for key, v := range values {
		if err := idx.set(image, key, v); err != nil {
			return err
		}
	}
	return nil
}

// AlarmScenario 達到最大重啟次數後鎖定
type AlarmScenario struct{}

func (s *AlarmScenario) Type() ScenarioType {
	return ScenarioAlarm
}

func (s *AlarmScenario) Update(image *RegisterImage, idx fieldIndex, rng *rand.Rand) error {
	values := map[string]float64{
		"anzahl_aktive_alarme":   1,
		"max_neustarts_erreicht": 1,
		"wp_status_num":          4,
		"waermeleistung":         0,
		"el_leistung_wp":         0,
	}
	for key, v := range values {
		if err := idx.set(image, key, v); err != nil {
			return err
		}
	}
	return nil
}
