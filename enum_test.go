package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnumTable_Resolve(t *testing.T) {
	tests := []struct {
		name  string
		table *EnumTable
		code  any
		want  string
	}{
		{"int64", TableHeatPumpStatus, int64(8), "Heizbetrieb"},
		{"int", TableHeatPumpStatus, 11, "Abtauung"},
		{"whole float", TableSGReadyMode, 1.0, "TCP"},
		{"fractional float", TableSGReadyMode, 1.5, UnknownLabel},
		{"missing code", TableOperatingMode, int64(42), UnknownLabel},
		{"negative code", TableOperatingMode, int64(-1), UnknownLabel},
		{"string", TableOperatingMode, "1", UnknownLabel},
		{"nil", TableOperatingMode, nil, UnknownLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.table.Resolve(tt.code))
		})
	}
}

func TestEnumTable_Lookup(t *testing.T) {
	label, ok := TableHeatPumpStatus.Lookup(0)
	assert.True(t, ok)
	assert.Equal(t, "Modbus TCP offline", label)

	_, ok = TableHeatPumpStatus.Lookup(99)
	assert.False(t, ok)
}

func TestApplyLabels(t *testing.T) {
	rules := []LabelRule{
		{Code: "mode_num", Key: "mode", Table: TableOperatingMode},
		{Code: "status_num", Key: "status", Table: TableHeatPumpStatus},
	}

	data := Snapshot{"mode_num": int64(4)}
	applyLabels(data, rules)

	assert.Equal(t, "Party", data["mode"])
	assert.Equal(t, int64(4), data["mode_num"], "代碼欄位保留")
	assert.NotContains(t, data, "status", "沒有代碼時不產生標籤")
}
