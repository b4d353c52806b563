package main

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorFor(t *testing.T) {
	tests := []struct {
		key      string
		category SensorCategory
		unit     string
		enabled  bool
	}{
		{"waermeleistung", CategoryPower, "W", true},
		{"waermepumpenaustritt", CategoryTemperature, "°C", true},
		{"vorlauftemperatur_hk2", CategoryTemperature, "°C", false},
		{"pumpe_fws_ausgang", CategoryPercentage, "%", true},
		{"wp_status_num", CategoryInformation, "", false},
		{"laufzeit_seit_letztem_start", CategoryMinutes, "min", true},
		{"betriebsstuden_kompressor", CategoryHours, "h", true},
		{"wp_status", CategoryInformation, "", true},
		{"firmware", CategoryInformation, "", true},
		{"something_new", CategoryInformation, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			s := SensorFor(tt.key)
			assert.Equal(t, tt.key, s.Key)
			assert.Equal(t, tt.category, s.Category)
			assert.Equal(t, tt.unit, s.Unit)
			assert.Equal(t, tt.enabled, s.Enabled)
		})
	}
}

func TestSensors_CoverDecodedFields(t *testing.T) {
	sensors := Sensors()
	require.NotEmpty(t, sensors)

	keys := make([]string, len(sensors))
	for i, s := range sensors {
		keys[i] = s.Key
	}
	assert.True(t, sort.StringsAreSorted(keys))

	blocks := DefaultBlocks()
	for i := range blocks {
		for _, key := range blocks[i].Keys() {
			_, ok := sensorIndex[key]
			assert.True(t, ok, "欄位 %s 缺少顯示資訊", key)
		}
	}
}

func TestSnapshot(t *testing.T) {
	s := Snapshot{"b": int64(2), "a": 1.5, "label": "Ein"}

	assert.Equal(t, []string{"a", "b", "label"}, s.Keys())

	v, ok := s.Float("b")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	_, ok = s.Float("label")
	assert.False(t, ok)

	clone := s.Clone()
	clone["a"] = 9.9
	assert.Equal(t, 1.5, s["a"])
	assert.Nil(t, Snapshot(nil).Clone())

	s.Merge(Snapshot{"b": int64(3), "c": int64(4)})
	assert.Equal(t, int64(3), s["b"])
	assert.Equal(t, int64(4), s["c"])
}
