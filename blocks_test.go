package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBlocks(t *testing.T) {
	blocks := DefaultBlocks()
	require.Len(t, blocks, 16)

	require.NoError(t, FirmwareBlock.Validate())

	seen := make(map[string]string)
	var prev uint16
	for i := range blocks {
		b := &blocks[i]
		require.NoError(t, b.Validate(), b.Name)
		assert.Greater(t, b.Address, prev, "區塊依位址遞增讀取")
		prev = b.Address

		for _, key := range b.Keys() {
			if other, dup := seen[key]; dup {
				t.Errorf("欄位 %s 同時出現在 %s 與 %s", key, other, b.Name)
			}
			seen[key] = b.Name
		}
	}

	assert.Equal(t, uint16(29), blocks[0].Address)
	assert.Equal(t, "status", blocks[len(blocks)-1].Name)
	assert.Equal(t, uint16(1999), blocks[len(blocks)-1].Address)
}

func TestDefaultBlocks_Independent(t *testing.T) {
	a := DefaultBlocks()
	a[0].Fields[0].Factor = 99

	b := DefaultBlocks()
	assert.NotEqual(t, 99.0, b[0].Fields[0].Factor)
}

func TestApplyScaleOverrides(t *testing.T) {
	blocks := DefaultBlocks()

	out, err := ApplyScaleOverrides(blocks, map[string]float64{"waermeleistung": ScaleHeatOutputAlt})
	require.NoError(t, err)

	for i := range out {
		if out[i].Name != "heat_output" {
			continue
		}
		assert.Equal(t, ScaleHeatOutputAlt, out[i].factor(out[i].Fields[0]))
		assert.Equal(t, ScaleHeatOutput, blocks[i].factor(blocks[i].Fields[0]), "原列表不受影響")
	}
}

func TestApplyScaleOverrides_Errors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]float64
		wantErr   string
	}{
		{"unknown field", map[string]float64{"does_not_exist": 2}, "does_not_exist"},
		{"zero factor", map[string]float64{"el_leistung_wp": 0}, "不可為 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyScaleOverrides(DefaultBlocks(), tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyScaleOverrides_Empty(t *testing.T) {
	blocks := DefaultBlocks()
	out, err := ApplyScaleOverrides(blocks, nil)
	require.NoError(t, err)
	assert.Equal(t, blocks, out)
}
