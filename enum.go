package main

import "math"

// UnknownLabel 對照表中不存在的代碼
const UnknownLabel = "Unknown"

// EnumTable 整數狀態碼到文字標籤的對照表
type EnumTable struct {
	Name   string
	labels map[int64]string
}

// NewEnumTable 建立對照表
func NewEnumTable(name string, labels map[int64]string) *EnumTable {
	return &EnumTable{Name: name, labels: labels}
}

// Lookup 查詢代碼
func (t *EnumTable) Lookup(code int64) (string, bool) {
	label, ok := t.labels[code]
	return label, ok
}

// Resolve 將快照中的代碼值轉為標籤，無法對應時返回 UnknownLabel
func (t *EnumTable) Resolve(code any) string {
	var c int64
	switch v := code.(type) {
	case int64:
		c = v
	case int:
		c = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return UnknownLabel
		}
		c = int64(v)
	default:
		return UnknownLabel
	}
	if label, ok := t.labels[c]; ok {
		return label
	}
	return UnknownLabel
}

// LabelRule 將 Code 欄位的代碼解析後寫入 Key
type LabelRule struct {
	Code  string
	Key   string
	Table *EnumTable
}

// applyLabels 依規則補上標籤欄位，原始代碼欄位保留
func applyLabels(data Snapshot, rules []LabelRule) {
	for _, r := range rules {
		code, ok := data[r.Code]
		if !ok {
			continue
		}
		data[r.Key] = r.Table.Resolve(code)
	}
}

// 對照表內容取自 OVUM ACP Modbus 文件
var (
	// TableOperatingMode 運轉模式 (BETRIEBSART_MODI)
	TableOperatingMode = NewEnumTable("betriebsart_modi", map[int64]string{
		0: "Aus",
		1: "Ein",
		2: "Zeitprogramm",
		3: "Urlaub",
		4: "Party",
	})

	// TableCircuitMode 暖氣迴路模式 (BETRIEBSART_HK)
	TableCircuitMode = NewEnumTable("betriebsart_hk", map[int64]string{
		0: "Inaktiv",
		1: "Heizen",
		2: "Kühlen",
		3: "Heizen&Kühlen",
	})

	// TableRefrigerantDemand 冷媒迴路需求 (KAELTEKREIS_MODI)
	TableRefrigerantDemand = NewEnumTable("kaeltekreis_modi", map[int64]string{
		0: "Keine",
		1: "Warmwasser",
		2: "Heizung",
		3: "externe",
		4: "Kühlung",
		6: "Manuell",
	})

	// TableCombiOutput 複合輸出模式 (PUPU_MODI)
	TableCombiOutput = NewEnumTable("pupu_modi", map[int64]string{
		0: "PuPu",
		1: "Warmwasser",
		2: "Sekundärpumpe",
		3: "Ladekreis aktiv",
		4: "Ladekreis kühlen",
		5: "Ladekreis heizen",
		6: "Ladekreis Warmwasser",
	})

	// TablePVSurplusControl PV 餘電控制方式 (PV_UEBERSCHUSSREGELUNG)
	TablePVSurplusControl = NewEnumTable("pv_ueberschussregelung", map[int64]string{
		0: "Ovum PV-Watch",
		1: "PV-Watch TCP",
		2: "Sollwert TCP",
	})

	// TableSGReadyMode SG-Ready 模式 (SGREADY_MODUS)
	TableSGReadyMode = NewEnumTable("sgready_modus", map[int64]string{
		0: "Schaltkontakte",
		1: "TCP",
	})

	// TablePVPlusBoost PV+ 設定值提升 (SOLLWERTANHEBUNG_PVPLUS)
	TablePVPlusBoost = NewEnumTable("sollwertanhebung_pvplus", map[int64]string{
		0: "Aus",
		1: "Heizkreis",
		2: "Speicher",
		3: "Heizkreis und Speicher",
	})

	// TableHeatPumpStatus 熱泵狀態 (WP_STATUS)
	TableHeatPumpStatus = NewEnumTable("wp_status", map[int64]string{
		0:  "Modbus TCP offline",
		1:  "Bereit",
		2:  "Hauptschalter aus",
		3:  "EVU Sperre",
		4:  "maximale Neustarts erreicht",
		5:  "Sperrzeit",
		6:  "Kompressorheizung",
		7:  "Warmwasserbetrieb",
		8:  "Heizbetrieb",
		9:  "externe Anforderung",
		10: "Kühlung",
		11: "Abtauung",
	})
)
