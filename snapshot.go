package main

import (
	"maps"
	"sort"
)

// Snapshot 一次輪詢週期的欄位值
//
// 值的型別為 int64 (倍率為 1)、float64 (縮放後) 或 string (標籤)。
type Snapshot map[string]any

// Merge 依序覆蓋合併，後者優先
func (s Snapshot) Merge(other Snapshot) {
	maps.Copy(s, other)
}

// Clone 複製快照
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Keys 返回排序後的欄位名稱
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float 以 float64 取得數值欄位
func (s Snapshot) Float(key string) (float64, bool) {
	switch v := s[key].(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
