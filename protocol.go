package main

// Modbus 協議常數
const (
	// Modbus 功能碼 (本程式只讀取保持暫存器)
	FuncCodeReadHoldingRegisters = 0x03

	// Modbus 異常碼
	ExceptionCodeIllegalFunction         = 0x01
	ExceptionCodeIllegalDataAddress      = 0x02
	ExceptionCodeIllegalDataValue        = 0x03
	ExceptionCodeSlaveDeviceFailure      = 0x04
	ExceptionCodeAcknowledge             = 0x05
	ExceptionCodeSlaveDeviceBusy         = 0x06
	ExceptionCodeMemoryParityError       = 0x08
	ExceptionCodeGatewayPathUnavailable  = 0x0A
	ExceptionCodeGatewayTargetNoResponse = 0x0B

	// Modbus TCP 常數
	ModbusTCPDefaultPort = 502

	// OVUM 控制器出廠的 Unit ID
	DefaultUnitID = 247

	// 暫存器限制
	MaxRegistersPerRead = 125
)

// exceptionText 返回異常碼的說明文字
func exceptionText(code uint8) string {
	switch code {
	case ExceptionCodeIllegalFunction:
		return "非法功能碼"
	case ExceptionCodeIllegalDataAddress:
		return "非法資料位址"
	case ExceptionCodeIllegalDataValue:
		return "非法資料值"
	case ExceptionCodeSlaveDeviceFailure:
		return "從站設備故障"
	case ExceptionCodeAcknowledge:
		return "確認"
	case ExceptionCodeSlaveDeviceBusy:
		return "從站設備忙碌"
	case ExceptionCodeMemoryParityError:
		return "記憶體同位錯誤"
	case ExceptionCodeGatewayPathUnavailable:
		return "閘道路徑不可用"
	case ExceptionCodeGatewayTargetNoResponse:
		return "閘道目標無回應"
	default:
		return "未知錯誤"
	}
}
