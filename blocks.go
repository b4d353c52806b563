package main

import (
	"fmt"
	"sort"
)

// 倍率常數
//
// 同一韌體的兩個整合版本對部分欄位使用不同倍率 (waermeleistung 為 ×10 或 ×0.01)。
// 預設值採用 ×10，其他版本可透過 poller.scale_overrides 覆蓋。
const (
	ScaleHeatOutput           = 10.0 // waermeleistung
	ScaleHeatOutputAlt        = 0.01 // waermeleistung, 另一整合版本
	ScaleElectricPower        = 10.0 // el_leistung_wp
	ScalePVWatch              = 10.0 // pv_watch_messwert, sollwert_pvwatch_tcp
	ScalePowerSetpoint        = 10.0 // sollwert_leistungsaufnahme_tcp
	ScaleTemperature          = 0.1
	ScalePumpDuty             = 0.01 // pumpe_fws_ausgang
	ScaleUnscaled             = 1.0
	FirmwareAddress    uint16 = 0x7
	FirmwareKey               = "firmware"
)

// FirmwareBlock 韌體識別碼，成功讀取一次後快取
var FirmwareBlock = BlockDescriptor{
	Name:          "firmware",
	Address:       FirmwareAddress,
	Count:         2,
	DefaultMethod: MethodInt32,
	DefaultFactor: ScaleUnscaled,
	Fields: []FieldDescriptor{
		Field(FirmwareKey),
	},
}

// DefaultBlocks 返回 OVUM ACP 的固定讀取順序
func DefaultBlocks() []BlockDescriptor {
	return []BlockDescriptor{
		{
			Name: "outputs", Address: 29, Count: 8,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("pumpe_hk1_num"),
				SkipBytes(4),
				Field("kombiausgang_pupu"),
				SkipBytes(2),
				Field("stufe2b"),
				Field("kuehlventil"),
				Field("stufe2a"),
			},
			Labels: []LabelRule{
				{Code: "pumpe_hk1_num", Key: "pumpe_hk1", Table: TableOperatingMode},
			},
		},
		{
			Name: "heat_output", Address: 78, Count: 11,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				FieldAs("waermeleistung", MethodUint16, ScaleHeatOutput),
				SkipBytes(18),
				Field("betriebsstuden_kompressor"),
			},
		},
		{
			Name: "heat_pump_temperatures", Address: 103, Count: 7,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				FieldAs("waermepumpenaustritt", MethodInt16, ScaleTemperature),
				FieldAs("waermepumpeneintritt", MethodInt16, ScaleTemperature),
				SkipBytes(8),
				Field("laufzeit_seit_letztem_start"),
			},
		},
		{
			Name: "hot_water", Address: 199, Count: 20,
			DefaultMethod: MethodInt16, DefaultFactor: ScaleTemperature,
			Fields: []FieldDescriptor{
				FieldAs("betriebsart_warmwasser_num", MethodUint16, ScaleUnscaled),
				Field("temperatur_wwspeicher_oben"),
				Field("temperatur_wwspeicher_unten"),
				Field("temperatur_zapf_fws"),
				FieldAs("pumpe_fws_ausgang", MethodUint16, ScalePumpDuty),
				SkipBytes(22),
				Field("temperatur_ww_soll"),
				SkipBytes(4),
				Field("temperatur_zapf_soll"),
			},
			Labels: []LabelRule{
				{Code: "betriebsart_warmwasser_num", Key: "betriebsart_warmwasser", Table: TableOperatingMode},
			},
		},
		{
			Name: "combi_output_status", Address: 249, Count: 1,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("status_kombiausgang_pupu_num"),
			},
			Labels: []LabelRule{
				{Code: "status_kombiausgang_pupu_num", Key: "status_kombiausgang_pupu", Table: TableOperatingMode},
			},
		},
		{
			Name: "alarms", Address: 352, Count: 4,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("anzahl_aktive_alarme"),
				SkipBytes(4),
				Field("max_neustarts_erreicht"),
			},
		},
		{
			Name: "pv_watch", Address: 449, Count: 7,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("autarkiegrad_ueberschussbetrieb"),
				SkipBytes(10),
				FieldAs("pv_watch_messwert", MethodInt16, ScalePVWatch),
			},
		},
		{
			Name: "heating_circuit1", Address: 499, Count: 25,
			DefaultMethod: MethodInt16, DefaultFactor: ScaleTemperature,
			Fields: []FieldDescriptor{
				FieldAs("betriebsart_heizung_num", MethodUint16, ScaleUnscaled),
				SkipBytes(4),
				Field("vorlauftemperatur_hk1"),
				Field("ruecklauftemperatur_hk1"),
				Field("temperatur_speicher"),
				Field("aussentemperatur_gemittelt"),
				SkipBytes(34),
				Field("raumsolltemperatur_hk1"),
			},
			Labels: []LabelRule{
				{Code: "betriebsart_heizung_num", Key: "betriebsart_heizung", Table: TableOperatingMode},
			},
		},
		{
			Name: "heating_circuit2", Address: 531, Count: 25,
			DefaultMethod: MethodInt16, DefaultFactor: ScaleTemperature,
			Fields: []FieldDescriptor{
				FieldAs("kombiausgang_pupu_modi_num", MethodUint16, ScaleUnscaled),
				SkipBytes(4),
				Field("vorlauftemperatur_hk2"),
				Field("vorlaufsolltemperatur_hk2"),
				Field("raumsolltemperatur_hk2"),
				SkipBytes(36),
				Field("vorlaufsolltemperatur_hk1"),
			},
			Labels: []LabelRule{
				{Code: "kombiausgang_pupu_modi_num", Key: "kombiausgang_pupu_modi", Table: TableCombiOutput},
			},
		},
		{
			Name: "circuit_modes", Address: 640, Count: 2,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("betriebsart_hk1_num"),
				Field("betriebsart_hk2_num"),
			},
			Labels: []LabelRule{
				{Code: "betriebsart_hk1_num", Key: "betriebsart_hk1", Table: TableCircuitMode},
				{Code: "betriebsart_hk2_num", Key: "betriebsart_hk2", Table: TableCircuitMode},
			},
		},
		{
			Name: "pv_plus", Address: 699, Count: 12,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				FieldAs("speichersolltemperatur_pvplus_betrieb", MethodUint16, ScaleTemperature),
				SkipBytes(4),
				Field("sollwertanhebung_ww_pvplus"),
				Field("sollwertanhebung_heizung_pvplus_num"),
				SkipBytes(6),
				FieldAs("el_leistung_wp", MethodUint16, ScaleElectricPower),
				Field("pvplus_regelungsart_num"),
				FieldAs("sollwert_pvwatch_tcp", MethodInt16, ScalePVWatch),
				FieldAs("sollwert_leistungsaufnahme_tcp", MethodUint16, ScalePowerSetpoint),
			},
			Labels: []LabelRule{
				{Code: "sollwertanhebung_heizung_pvplus_num", Key: "sollwertanhebung_heizung_pvplus", Table: TablePVPlusBoost},
				{Code: "pvplus_regelungsart_num", Key: "pvplus_regelungsart", Table: TablePVSurplusControl},
			},
		},
		{
			Name: "pv_demand", Address: 749, Count: 1,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("pv_anforderung_aktiv"),
			},
		},
		{
			Name: "defrost", Address: 1149, Count: 1,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("abtaustatus"),
			},
		},
		{
			Name: "refrigerant_demand", Address: 1204, Count: 1,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("anforderungsart_kaeltekreis_num"),
			},
			Labels: []LabelRule{
				{Code: "anforderungsart_kaeltekreis_num", Key: "anforderungsart_kaeltekreis", Table: TableRefrigerantDemand},
			},
		},
		{
			Name: "sg_ready", Address: 1249, Count: 3,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("sg_ready_modus_num"),
				Field("sg_ready_kontakt1"),
				Field("sg_ready_kontakt2"),
			},
			Labels: []LabelRule{
				{Code: "sg_ready_modus_num", Key: "sg_ready_modus", Table: TableSGReadyMode},
			},
		},
		{
			Name: "status", Address: 1999, Count: 1,
			DefaultMethod: MethodUint16, DefaultFactor: ScaleUnscaled,
			Fields: []FieldDescriptor{
				Field("wp_status_num"),
			},
			Labels: []LabelRule{
				{Code: "wp_status_num", Key: "wp_status", Table: TableHeatPumpStatus},
			},
		},
	}
}

// ApplyScaleOverrides 以設定覆蓋欄位倍率，返回新的區塊列表
func ApplyScaleOverrides(blocks []BlockDescriptor, overrides map[string]float64) ([]BlockDescriptor, error) {
	if len(overrides) == 0 {
		return blocks, nil
	}

	remaining := make(map[string]float64, len(overrides))
	for k, v := range overrides {
		if v == 0 {
			return nil, fmt.Errorf("欄位 %q 的倍率不可為 0", k)
		}
		remaining[k] = v
	}

	out := make([]BlockDescriptor, len(blocks))
	for i, b := range blocks {
		fields := make([]FieldDescriptor, len(b.Fields))
		copy(fields, b.Fields)
		for j, f := range fields {
			if factor, ok := remaining[f.Key]; ok && f.Key != "" {
				fields[j].Factor = factor
				delete(remaining, f.Key)
			}
		}
		b.Fields = fields
		out[i] = b
	}

	if len(remaining) > 0 {
		unknown := make([]string, 0, len(remaining))
		for k := range remaining {
			unknown = append(unknown, k)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("倍率覆蓋參照不存在的欄位: %v", unknown)
	}
	return out, nil
}
