package main

import (
	"fmt"
	"sync"
)

// holdingRegisterSpace 保持暫存器位址空間大小 (0x0000-0xFFFF)
const holdingRegisterSpace = 65536

// RegisterImage 模擬裝置的保持暫存器內容 (線程安全)
type RegisterImage struct {
	mu      sync.RWMutex
	holding []uint16
}

// NewRegisterImage 建立全為 0 的暫存器映像
func NewRegisterImage() *RegisterImage {
	return &RegisterImage{
		holding: make([]uint16, holdingRegisterSpace),
	}
}

// DefaultRegisterImage 建立含有韌體版本與典型運轉值的映像
func DefaultRegisterImage(firmware int64, blocks []BlockDescriptor) (*RegisterImage, error) {
	ri := NewRegisterImage()

	if err := ri.SetBlock(&FirmwareBlock, map[string]float64{FirmwareKey: float64(firmware)}); err != nil {
		return nil, err
	}
	for i := range blocks {
		if err := ri.SetBlock(&blocks[i], sampleValues); err != nil {
			return nil, err
		}
	}
	return ri, nil
}

// sampleValues 典型運轉狀態 (暖氣與熱水同時運作)
var sampleValues = map[string]float64{
	"pumpe_hk1_num":                         1,
	"kombiausgang_pupu":                     0,
	"stufe2b":                               0,
	"kuehlventil":                           0,
	"stufe2a":                               0,
	"waermeleistung":                        5420,
	"betriebsstuden_kompressor":             8123,
	"waermepumpenaustritt":                  38.5,
	"waermepumpeneintritt":                  33.2,
	"laufzeit_seit_letztem_start":           47,
	"betriebsart_warmwasser_num":            2,
	"temperatur_wwspeicher_oben":            51.3,
	"temperatur_wwspeicher_unten":           44.8,
	"temperatur_zapf_fws":                   48.0,
	"pumpe_fws_ausgang":                     35.5,
	"temperatur_ww_soll":                    52.0,
	"temperatur_zapf_soll":                  48.0,
	"status_kombiausgang_pupu_num":          0,
	"anzahl_aktive_alarme":                  0,
	"max_neustarts_erreicht":                0,
	"autarkiegrad_ueberschussbetrieb":       63,
	"pv_watch_messwert":                     -1250,
	"betriebsart_heizung_num":               2,
	"vorlauftemperatur_hk1":                 35.4,
	"ruecklauftemperatur_hk1":               30.1,
	"temperatur_speicher":                   36.7,
	"aussentemperatur_gemittelt":            -2.5,
	"raumsolltemperatur_hk1":                21.0,
	"kombiausgang_pupu_modi_num":            1,
	"vorlauftemperatur_hk2":                 0,
	"vorlaufsolltemperatur_hk2":             0,
	"raumsolltemperatur_hk2":                20.0,
	"vorlaufsolltemperatur_hk1":             36.0,
	"betriebsart_hk1_num":                   1,
	"betriebsart_hk2_num":                   0,
	"speichersolltemperatur_pvplus_betrieb": 55.0,
	"sollwertanhebung_ww_pvplus":            5,
	"sollwertanhebung_heizung_pvplus_num":   2,
	"el_leistung_wp":                        1380,
	"pvplus_regelungsart_num":               1,
	"sollwert_pvwatch_tcp":                  -500,
	"sollwert_leistungsaufnahme_tcp":        1500,
	"pv_anforderung_aktiv":                  1,
	"abtaustatus":                           0,
	"anforderungsart_kaeltekreis_num":       1,
	"sg_ready_modus_num":                    1,
	"sg_ready_kontakt1":                     0,
	"sg_ready_kontakt2":                     0,
	"wp_status_num":                         8,
}

// ReadHoldingRegisters 讀取連續的保持暫存器
func (ri *RegisterImage) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	end := int(address) + int(quantity)
	if quantity == 0 || end > len(ri.holding) {
		return nil, fmt.Errorf("保持暫存器位址超出範圍: %d-%d", address, end-1)
	}

	result := make([]uint16, quantity)
	copy(result, ri.holding[address:end])
	return result, nil
}

// WriteHoldingRegisters 寫入連續的保持暫存器
func (ri *RegisterImage) WriteHoldingRegisters(address uint16, values []uint16) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	end := int(address) + len(values)
	if end > len(ri.holding) {
		return fmt.Errorf("保持暫存器位址超出範圍: %d-%d", address, end-1)
	}

	copy(ri.holding[address:end], values)
	return nil
}

// SetBlock 依區塊定義編碼欄位值並寫入，未提供的欄位與保留區段為 0
func (ri *RegisterImage) SetBlock(b *BlockDescriptor, values map[string]float64) error {
	words, err := EncodeBlock(b, values)
	if err != nil {
		return fmt.Errorf("編碼區塊 %s 失敗: %w", b.Name, err)
	}
	return ri.WriteHoldingRegisters(b.Address, words)
}

// SetValue 更新單一欄位，其餘暫存器維持原值
func (ri *RegisterImage) SetValue(b *BlockDescriptor, key string, value float64) error {
	offset, width, ok := b.fieldSpan(key)
	if !ok {
		return fmt.Errorf("區塊 %s 沒有欄位 %s", b.Name, key)
	}
	patch, err := EncodeBlock(b, map[string]float64{key: value})
	if err != nil {
		return fmt.Errorf("編碼欄位 %s 失敗: %w", key, err)
	}

	ri.mu.Lock()
	defer ri.mu.Unlock()

	start := int(b.Address) + offset
	if start+width > len(ri.holding) {
		return fmt.Errorf("保持暫存器位址超出範圍: %d", start)
	}
	copy(ri.holding[start:start+width], patch[offset:offset+width])
	return nil
}
