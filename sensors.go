package main

import "sort"

// SensorCategory 欄位分類
type SensorCategory string

const (
	CategoryPower       SensorCategory = "power"
	CategoryTemperature SensorCategory = "temperature"
	CategoryInformation SensorCategory = "information"
	CategoryPercentage  SensorCategory = "percentage"
	CategoryMinutes     SensorCategory = "duration_minutes"
	CategoryHours       SensorCategory = "duration_hours"
)

// Unit 返回分類的量測單位，資訊類欄位沒有單位
func (c SensorCategory) Unit() string {
	switch c {
	case CategoryPower:
		return "W"
	case CategoryTemperature:
		return "°C"
	case CategoryPercentage:
		return "%"
	case CategoryMinutes:
		return "min"
	case CategoryHours:
		return "h"
	default:
		return ""
	}
}

// Sensor 快照欄位的顯示資訊
type Sensor struct {
	Key      string         `json:"key" yaml:"key"`
	Name     string         `json:"name" yaml:"name"`
	Category SensorCategory `json:"category" yaml:"category"`
	Unit     string         `json:"unit,omitempty" yaml:"unit,omitempty"`
	Enabled  bool           `json:"enabled" yaml:"enabled"`
}

type sensorDef struct {
	key, name string
	disabled  bool
}

var sensorGroups = []struct {
	category SensorCategory
	sensors  []sensorDef
}{
	{CategoryPower, []sensorDef{
		{key: "waermeleistung", name: "AIR Leistung Wärme"},
		{key: "pv_watch_messwert", name: "PV Watch Messwert"},
		{key: "el_leistung_wp", name: "AIR Leistung elektrisch"},
		{key: "sollwert_pvwatch_tcp", name: "sollwert_pvwatch_tcp"},
		{key: "sollwert_leistungsaufnahme_tcp", name: "sollwert_leistungsaufnahme_tcp"},
	}},
	{CategoryTemperature, []sensorDef{
		{key: "waermepumpenaustritt", name: "AIR WP Austritt"},
		{key: "waermepumpeneintritt", name: "AIR WP Eintritt"},
		{key: "temperatur_wwspeicher_oben", name: "CUBE Temp WW oben"},
		{key: "temperatur_wwspeicher_unten", name: "CUBE Temp WW unten"},
		{key: "temperatur_zapf_fws", name: "FWS Temp Zapf ist"},
		{key: "temperatur_ww_soll", name: "CUBE Temp WW soll"},
		{key: "temperatur_zapf_soll", name: "FWS Temp Zapf soll"},
		{key: "vorlauftemperatur_hk1", name: "HK1 Temp Vorlauf"},
		{key: "ruecklauftemperatur_hk1", name: "HK1 Temp Rücklauf"},
		{key: "temperatur_speicher", name: "CUBE Temp Speicher"},
		{key: "aussentemperatur_gemittelt", name: "AIR Temp aussen gemittelt"},
		{key: "raumsolltemperatur_hk1", name: "HK1 Temp Raum soll"},
		{key: "vorlauftemperatur_hk2", name: "HK2 Temp Vorlauf", disabled: true},
		{key: "vorlaufsolltemperatur_hk2", name: "HK2 Temp Vorlauf soll", disabled: true},
		{key: "raumsolltemperatur_hk2", name: "HK2 Temp Raum soll", disabled: true},
		{key: "vorlaufsolltemperatur_hk1", name: "HK1 Temp Vorlauf soll"},
		{key: "speichersolltemperatur_pvplus_betrieb", name: "CUBE Temp Speicher soll PV+"},
	}},
	{CategoryInformation, []sensorDef{
		{key: "firmware", name: "Firmware"},
		{key: "pumpe_hk1_num", name: "HK1 Pumpe num", disabled: true},
		{key: "pumpe_hk1", name: "HK1 Pumpe"},
		{key: "kombiausgang_pupu", name: "kombiausgang_pupu"},
		{key: "stufe2b", name: "stufe2b"},
		{key: "kuehlventil", name: "Kuehlventil"},
		{key: "stufe2a", name: "stufe2a"},
		{key: "betriebsart_warmwasser_num", name: "WW Betriebsart num", disabled: true},
		{key: "betriebsart_warmwasser", name: "WW Betriebsart"},
		{key: "status_kombiausgang_pupu_num", name: "status_kombiausgang_pupu_num", disabled: true},
		{key: "status_kombiausgang_pupu", name: "status_kombiausgang_pupu"},
		{key: "anzahl_aktive_alarme", name: "Anzahl aktive Alarme"},
		{key: "max_neustarts_erreicht", name: "AIR max Neustarts erreicht"},
		{key: "autarkiegrad_ueberschussbetrieb", name: "Autarkiegrad Überschussbetrieb"},
		{key: "betriebsart_heizung_num", name: "Betriebsart Heizung num", disabled: true},
		{key: "betriebsart_heizung", name: "Betriebsart Heizung"},
		{key: "kombiausgang_pupu_modi_num", name: "kombiausgang_pupu_modi_num", disabled: true},
		{key: "kombiausgang_pupu_modi", name: "kombiausgang_pupu_modi"},
		{key: "betriebsart_hk1_num", name: "HK1 Betriebsart num", disabled: true},
		{key: "betriebsart_hk1", name: "HK1 Betriebsart"},
		{key: "betriebsart_hk2_num", name: "HK2 Betriebsart num", disabled: true},
		{key: "betriebsart_hk2", name: "HK2 Betriebsart", disabled: true},
		{key: "sollwertanhebung_ww_pvplus", name: "PV+ WW Sollwertanhebung"},
		{key: "sollwertanhebung_heizung_pvplus_num", name: "PV+ HZ Sollwertanhebung num", disabled: true},
		{key: "sollwertanhebung_heizung_pvplus", name: "PV+ HZ Sollwertanhebung"},
		{key: "pvplus_regelungsart_num", name: "PV+ Regelungsart num", disabled: true},
		{key: "pvplus_regelungsart", name: "PV+ Regelungsart"},
		{key: "pv_anforderung_aktiv", name: "PV Anforderung aktiv"},
		{key: "abtaustatus", name: "Abtaustatus"},
		{key: "anforderungsart_kaeltekreis_num", name: "anforderungsart_kaeltekreis_num", disabled: true},
		{key: "anforderungsart_kaeltekreis", name: "anforderungsart_kaeltekreis"},
		{key: "sg_ready_modus_num", name: "SG Ready Modus num", disabled: true},
		{key: "sg_ready_modus", name: "SG Ready Modus"},
		{key: "sg_ready_kontakt1", name: "SG Ready Kontakt1"},
		{key: "sg_ready_kontakt2", name: "SG Ready Kontakt2"},
		{key: "wp_status_num", name: "WP Status num", disabled: true},
		{key: "wp_status", name: "WP Status"},
	}},
	{CategoryPercentage, []sensorDef{
		{key: "pumpe_fws_ausgang", name: "FWS Pumpe Leistung"},
	}},
	{CategoryMinutes, []sensorDef{
		{key: "laufzeit_seit_letztem_start", name: "AIR Laufzeit seit letztem Start"},
	}},
	{CategoryHours, []sensorDef{
		{key: "betriebsstuden_kompressor", name: "AIR Betriebsstuden Kompressor"},
	}},
}

var sensorIndex = buildSensorIndex()

func buildSensorIndex() map[string]Sensor {
	idx := make(map[string]Sensor)
	for _, g := range sensorGroups {
		for _, s := range g.sensors {
			idx[s.key] = Sensor{
				Key:      s.key,
				Name:     s.name,
				Category: g.category,
				Unit:     g.category.Unit(),
				Enabled:  !s.disabled,
			}
		}
	}
	return idx
}

// SensorFor 取得欄位資訊，未知欄位歸類為資訊類
func SensorFor(key string) Sensor {
	if s, ok := sensorIndex[key]; ok {
		return s
	}
	return Sensor{Key: key, Name: key, Category: CategoryInformation, Enabled: true}
}

// Sensors 返回所有已知欄位，依鍵排序
func Sensors() []Sensor {
	out := make([]Sensor, 0, len(sensorIndex))
	for _, s := range sensorIndex {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
