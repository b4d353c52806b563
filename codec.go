package main

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeMethod 欄位解碼方法
type DecodeMethod int

const (
	// MethodDefault 使用區塊的預設解碼方法
	MethodDefault DecodeMethod = iota
	MethodInt16
	MethodUint16
	MethodInt32
	MethodUint32
	MethodSkip
)

func (m DecodeMethod) String() string {
	switch m {
	case MethodDefault:
		return "default"
	case MethodInt16:
		return "int16"
	case MethodUint16:
		return "uint16"
	case MethodInt32:
		return "int32"
	case MethodUint32:
		return "uint32"
	case MethodSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Words 返回該方法佔用的暫存器數量 (skip 由位元組數決定)
func (m DecodeMethod) Words() int {
	switch m {
	case MethodInt32, MethodUint32:
		return 2
	case MethodInt16, MethodUint16:
		return 1
	default:
		return 0
	}
}

// FieldDescriptor 區塊內的一個輸出欄位
//
// Key 為空表示只推進游標不輸出。Factor 為 0 時使用區塊預設倍率。
// Method 為 MethodSkip 時 Bytes 為要跳過的位元組數。
type FieldDescriptor struct {
	Key    string
	Method DecodeMethod
	Factor float64
	Bytes  int
}

// Field 使用區塊預設方法與倍率的欄位
func Field(key string) FieldDescriptor {
	return FieldDescriptor{Key: key}
}

// FieldAs 指定解碼方法與倍率的欄位 (factor 為 0 時沿用區塊預設)
func FieldAs(key string, method DecodeMethod, factor float64) FieldDescriptor {
	return FieldDescriptor{Key: key, Method: method, Factor: factor}
}

// SkipBytes 跳過 n 個位元組
func SkipBytes(n int) FieldDescriptor {
	return FieldDescriptor{Method: MethodSkip, Bytes: n}
}

// Reserved 保留暫存器，依方法寬度推進但不輸出
func Reserved(method DecodeMethod) FieldDescriptor {
	return FieldDescriptor{Method: method}
}

// BlockDescriptor 一次暫存器讀取的靜態定義
type BlockDescriptor struct {
	Name          string
	Address       uint16
	Count         uint16
	Fields        []FieldDescriptor
	DefaultMethod DecodeMethod
	DefaultFactor float64
	Labels        []LabelRule
}

// method 解析欄位實際使用的解碼方法
func (b *BlockDescriptor) method(f FieldDescriptor) DecodeMethod {
	if f.Method != MethodDefault {
		return f.Method
	}
	if b.DefaultMethod != MethodDefault {
		return b.DefaultMethod
	}
	return MethodUint16
}

// factor 解析欄位實際使用的倍率
func (b *BlockDescriptor) factor(f FieldDescriptor) float64 {
	if f.Factor != 0 {
		return f.Factor
	}
	if b.DefaultFactor != 0 {
		return b.DefaultFactor
	}
	return 1
}

// consumed 返回欄位佔用的暫存器數量
func (b *BlockDescriptor) consumed(f FieldDescriptor) int {
	m := b.method(f)
	if m == MethodSkip {
		return f.Bytes / 2
	}
	return m.Words()
}

// Words 返回所有欄位佔用的暫存器總數
func (b *BlockDescriptor) Words() int {
	total := 0
	for _, f := range b.Fields {
		total += b.consumed(f)
	}
	return total
}

// Keys 返回區塊輸出的所有欄位名稱 (含標籤)
func (b *BlockDescriptor) Keys() []string {
	var keys []string
	for _, f := range b.Fields {
		if f.Key != "" && b.method(f) != MethodSkip {
			keys = append(keys, f.Key)
		}
	}
	for _, l := range b.Labels {
		keys = append(keys, l.Key)
	}
	return keys
}

// fieldSpan 返回欄位在區塊內的暫存器偏移與寬度
func (b *BlockDescriptor) fieldSpan(key string) (offset, width int, ok bool) {
	for _, f := range b.Fields {
		w := b.consumed(f)
		if f.Key == key && b.method(f) != MethodSkip {
			return offset, w, true
		}
		offset += w
	}
	return 0, 0, false
}

// Validate 驗證區塊定義
func (b *BlockDescriptor) Validate() error {
	if b.Count < 1 || b.Count > MaxRegistersPerRead {
		return fmt.Errorf("區塊 %s: 暫存器數量 %d 超出範圍 (1-%d)", b.Name, b.Count, MaxRegistersPerRead)
	}
	if words := b.Words(); words != int(b.Count) {
		return fmt.Errorf("區塊 %s: 欄位佔用 %d 個暫存器，宣告為 %d", b.Name, words, b.Count)
	}

	decoded := make(map[string]bool)
	for _, f := range b.Fields {
		if b.method(f) == MethodSkip {
			if f.Bytes <= 0 || f.Bytes%2 != 0 {
				return fmt.Errorf("區塊 %s: 跳過的位元組數 %d 必須為正偶數", b.Name, f.Bytes)
			}
			continue
		}
		if f.Key == "" {
			continue
		}
		if decoded[f.Key] {
			return fmt.Errorf("區塊 %s: 欄位 %q 重複", b.Name, f.Key)
		}
		decoded[f.Key] = true
	}

	for _, l := range b.Labels {
		if !decoded[l.Code] {
			return fmt.Errorf("區塊 %s: 標籤 %q 參照不存在的欄位 %q", b.Name, l.Key, l.Code)
		}
		if decoded[l.Key] {
			return fmt.Errorf("區塊 %s: 標籤 %q 與欄位重名", b.Name, l.Key)
		}
		if l.Table == nil {
			return fmt.Errorf("區塊 %s: 標籤 %q 缺少對照表", b.Name, l.Key)
		}
	}
	return nil
}

// DecodeBlock 依區塊定義將暫存器序列解碼為欄位值
//
// 任一欄位解碼失敗時整個區塊作廢，不返回部分結果。
func DecodeBlock(b *BlockDescriptor, words []uint16) (Snapshot, error) {
	out := make(Snapshot, len(b.Fields))
	cursor := 0

	for _, f := range b.Fields {
		m := b.method(f)

		if m == MethodSkip {
			cursor += f.Bytes / 2
			continue
		}

		width := m.Words()
		if width == 0 {
			return nil, &DecodeError{Block: b.Name, Key: f.Key, Cursor: cursor, Words: len(words), Reason: "無效的解碼方法 " + m.String()}
		}
		if cursor+width > len(words) {
			return nil, &DecodeError{Block: b.Name, Key: f.Key, Cursor: cursor, Words: len(words), Reason: "游標超出暫存器範圍"}
		}

		if f.Key != "" {
			raw := decodeRaw(m, words[cursor:cursor+width])
			out[f.Key] = scale(raw, b.factor(f))
		}
		cursor += width
	}

	return out, nil
}

// decodeRaw 解碼原始整數值 (32 位元為高字在前)
func decodeRaw(m DecodeMethod, w []uint16) int64 {
	switch m {
	case MethodInt16:
		return int64(int16(w[0]))
	case MethodUint16:
		return int64(w[0])
	case MethodInt32:
		return int64(int32(uint32(w[0])<<16 | uint32(w[1])))
	case MethodUint32:
		return int64(uint32(w[0])<<16 | uint32(w[1]))
	default:
		return 0
	}
}

// scale 套用倍率，倍率為 1 時原樣返回整數
func scale(raw int64, factor float64) any {
	if factor == 1 {
		return raw
	}
	return round2(float64(raw) * factor)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// EncodeBlock 將欄位值編碼為暫存器序列 (DecodeBlock 的反向操作)
//
// 缺少的欄位與跳過的區段填 0。
func EncodeBlock(b *BlockDescriptor, values map[string]float64) ([]uint16, error) {
	words := make([]uint16, b.Count)
	cursor := 0

	for _, f := range b.Fields {
		m := b.method(f)
		if m == MethodSkip {
			cursor += f.Bytes / 2
			continue
		}

		width := m.Words()
		if width == 0 || cursor+width > len(words) {
			return nil, &DecodeError{Block: b.Name, Key: f.Key, Cursor: cursor, Words: len(words), Reason: "無法編碼"}
		}

		if v, ok := values[f.Key]; ok && f.Key != "" {
			raw := int64(math.Round(v / b.factor(f)))
			switch m {
			case MethodInt16, MethodUint16:
				words[cursor] = uint16(raw)
			case MethodInt32, MethodUint32:
				u32 := uint32(raw)
				words[cursor] = uint16(u32 >> 16)
				words[cursor+1] = uint16(u32)
			}
		}
		cursor += width
	}

	return words, nil
}

// RegistersToBytes 將暫存器值轉換為位元組陣列 (Big Endian)
func RegistersToBytes(registers []uint16) []byte {
	bytes := make([]byte, len(registers)*2)
	for i, reg := range registers {
		binary.BigEndian.PutUint16(bytes[i*2:], reg)
	}
	return bytes
}

// RegistersFromBytes 將位元組陣列轉換為暫存器值 (Big Endian)
func RegistersFromBytes(data []byte) []uint16 {
	registers := make([]uint16, len(data)/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return registers
}
