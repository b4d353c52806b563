package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全域配置
type Config struct {
	Device    DeviceConfig    `json:"device" mapstructure:"device"`
	Poller    PollerConfig    `json:"poller" mapstructure:"poller"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Simulator SimulatorConfig `json:"simulator" mapstructure:"simulator"`
}

// DeviceConfig 熱泵連線配置
type DeviceConfig struct {
	Name         string        `json:"name" mapstructure:"name"`
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	UnitID       uint8         `json:"unit_id" mapstructure:"unit_id"`
	ScanInterval time.Duration `json:"scan_interval" mapstructure:"scan_interval"`
}

// Endpoint 轉為連線端點
func (d DeviceConfig) Endpoint() Endpoint {
	return Endpoint{Host: d.Host, Port: d.Port, UnitID: d.UnitID}
}

// PollerConfig 輪詢與重試配置
type PollerConfig struct {
	ConnectTimeout   time.Duration      `json:"connect_timeout" mapstructure:"connect_timeout"`
	RequestTimeout   time.Duration      `json:"request_timeout" mapstructure:"request_timeout"`
	MaxRetries       int                `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration      `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration      `json:"retry_max_delay" mapstructure:"retry_max_delay"`
	InterReadDelay   time.Duration      `json:"inter_read_delay" mapstructure:"inter_read_delay"`
	CloseSettleDelay time.Duration      `json:"close_settle_delay" mapstructure:"close_settle_delay"`
	ShutdownTimeout  time.Duration      `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CloseAfterCycle  bool               `json:"close_after_cycle" mapstructure:"close_after_cycle"`
	ScaleOverrides   map[string]float64 `json:"scale_overrides,omitempty" mapstructure:"scale_overrides"`
}

// RetryPolicy 取得重試策略
func (p PollerConfig) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: p.MaxRetries,
		BaseDelay:  p.RetryBaseDelay,
		MaxDelay:   p.RetryMaxDelay,
	}
}

// LoggingConfig 日誌配置
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	OutputPath string `json:"output_path" mapstructure:"output_path"`
}

// MetricsConfig 指標配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Port     int    `json:"port" mapstructure:"port"`
}

// SimulatorConfig 模擬裝置配置
type SimulatorConfig struct {
	Listen          string        `json:"listen" mapstructure:"listen"`
	Port            int           `json:"port" mapstructure:"port"`
	Firmware        int64         `json:"firmware" mapstructure:"firmware"`
	Interface       string        `json:"interface" mapstructure:"interface"`
	CIDR            string        `json:"cidr" mapstructure:"cidr"`
	FailingBlocks   []string      `json:"failing_blocks" mapstructure:"failing_blocks"`
	BusyRate        float64       `json:"busy_rate" mapstructure:"busy_rate"`
	JitterMin       time.Duration `json:"jitter_min" mapstructure:"jitter_min"`
	JitterMax       time.Duration `json:"jitter_max" mapstructure:"jitter_max"`
	Scenario        string        `json:"scenario" mapstructure:"scenario"`
	UpdateInterval  time.Duration `json:"update_interval" mapstructure:"update_interval"`
	GracefulTimeout time.Duration `json:"graceful_timeout" mapstructure:"graceful_timeout"`
}

const (
	DefaultDeviceName   = "Ovum"
	DefaultScanInterval = 60 * time.Second
)

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:         DefaultDeviceName,
			Host:         "127.0.0.1",
			Port:         ModbusTCPDefaultPort,
			UnitID:       DefaultUnitID,
			ScanInterval: DefaultScanInterval,
		},
		Poller: PollerConfig{
			ConnectTimeout:   10 * time.Second,
			RequestTimeout:   10 * time.Second,
			MaxRetries:       3,
			RetryBaseDelay:   2 * time.Second,
			RetryMaxDelay:    10 * time.Second,
			InterReadDelay:   200 * time.Millisecond,
			CloseSettleDelay: 200 * time.Millisecond,
			ShutdownTimeout:  5 * time.Second,
			CloseAfterCycle:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
			Port:     9090,
		},
		Simulator: SimulatorConfig{
			Listen:          "0.0.0.0",
			Port:            ModbusTCPDefaultPort,
			Firmware:        1234,
			Interface:       "eth0",
			Scenario:        ScenarioNormal.String(),
			UpdateInterval:  5 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig 載入配置檔
//
// envFile 非空時先載入 .env 檔，環境變數以 OVUMPOLL_ 為前綴 (例如 OVUMPOLL_DEVICE_HOST)。
func LoadConfig(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("載入環境變數檔失敗: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ovumpoll/")
		v.AddConfigPath("$HOME/.ovumpoll/")
	}

	// 環境變數覆蓋
	v.SetEnvPrefix("OVUMPOLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		// 配置檔不存在，使用預設值
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	return cfg, nil
}

// setDefaults 註冊所有鍵的預設值，AutomaticEnv 只對已知的鍵生效
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("device.name", d.Device.Name)
	v.SetDefault("device.host", d.Device.Host)
	v.SetDefault("device.port", d.Device.Port)
	v.SetDefault("device.unit_id", d.Device.UnitID)
	v.SetDefault("device.scan_interval", d.Device.ScanInterval)

	v.SetDefault("poller.connect_timeout", d.Poller.ConnectTimeout)
	v.SetDefault("poller.request_timeout", d.Poller.RequestTimeout)
	v.SetDefault("poller.max_retries", d.Poller.MaxRetries)
	v.SetDefault("poller.retry_base_delay", d.Poller.RetryBaseDelay)
	v.SetDefault("poller.retry_max_delay", d.Poller.RetryMaxDelay)
	v.SetDefault("poller.inter_read_delay", d.Poller.InterReadDelay)
	v.SetDefault("poller.close_settle_delay", d.Poller.CloseSettleDelay)
	v.SetDefault("poller.shutdown_timeout", d.Poller.ShutdownTimeout)
	v.SetDefault("poller.close_after_cycle", d.Poller.CloseAfterCycle)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.endpoint", d.Metrics.Endpoint)
	v.SetDefault("metrics.port", d.Metrics.Port)

	v.SetDefault("simulator.listen", d.Simulator.Listen)
	v.SetDefault("simulator.port", d.Simulator.Port)
	v.SetDefault("simulator.firmware", d.Simulator.Firmware)
	v.SetDefault("simulator.interface", d.Simulator.Interface)
	v.SetDefault("simulator.cidr", d.Simulator.CIDR)
	v.SetDefault("simulator.busy_rate", d.Simulator.BusyRate)
	v.SetDefault("simulator.jitter_min", d.Simulator.JitterMin)
	v.SetDefault("simulator.jitter_max", d.Simulator.JitterMax)
	v.SetDefault("simulator.scenario", d.Simulator.Scenario)
	v.SetDefault("simulator.update_interval", d.Simulator.UpdateInterval)
	v.SetDefault("simulator.graceful_timeout", d.Simulator.GracefulTimeout)
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("裝置配置: %w", err)
	}
	if err := c.Poller.Validate(); err != nil {
		return fmt.Errorf("輪詢配置: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("日誌配置: %w", err)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("無效的指標埠號: %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Endpoint, "/") {
			return fmt.Errorf("指標路徑必須以 / 開頭: %q", c.Metrics.Endpoint)
		}
	}
	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("模擬器配置: %w", err)
	}
	return nil
}

// Validate 驗證裝置配置
func (d *DeviceConfig) Validate() error {
	if !HostValid(d.Host) {
		return fmt.Errorf("無效的主機: %q", d.Host)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("無效的埠號: %d", d.Port)
	}
	if d.UnitID < 1 || d.UnitID > 247 {
		return fmt.Errorf("無效的 Unit ID: %d (範圍 1-247)", d.UnitID)
	}
	if d.ScanInterval <= 0 {
		return fmt.Errorf("輪詢間隔必須大於 0")
	}
	return nil
}

// Validate 驗證輪詢配置
func (p *PollerConfig) Validate() error {
	if p.ConnectTimeout <= 0 || p.RequestTimeout <= 0 {
		return fmt.Errorf("逾時必須大於 0")
	}
	if p.MaxRetries < 1 {
		return fmt.Errorf("重試次數必須至少為 1")
	}
	if p.RetryBaseDelay < 0 || p.RetryMaxDelay < p.RetryBaseDelay {
		return fmt.Errorf("無效的重試延遲: base=%s max=%s", p.RetryBaseDelay, p.RetryMaxDelay)
	}
	if p.InterReadDelay < 0 || p.CloseSettleDelay < 0 {
		return fmt.Errorf("延遲不可為負值")
	}
	if p.ShutdownTimeout <= 0 {
		return fmt.Errorf("關閉逾時必須大於 0")
	}
	for key, factor := range p.ScaleOverrides {
		if factor == 0 {
			return fmt.Errorf("欄位 %s 的倍率不可為 0", key)
		}
	}
	return nil
}

// Validate 驗證日誌配置
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("無效的日誌等級: %q", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("無效的日誌格式: %q", l.Format)
	}
	return nil
}

// Validate 驗證模擬器配置
func (s *SimulatorConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("無效的埠號: %d", s.Port)
	}
	if s.BusyRate < 0 || s.BusyRate > 1 {
		return fmt.Errorf("忙碌比例必須介於 0 與 1: %v", s.BusyRate)
	}
	if s.JitterMax < s.JitterMin {
		return fmt.Errorf("jitter_max 不可小於 jitter_min")
	}
	if _, err := ParseScenarioType(s.Scenario); err != nil {
		return err
	}
	if s.UpdateInterval < 0 {
		return fmt.Errorf("更新間隔不可為負值")
	}
	if s.CIDR != "" {
		if _, _, err := net.ParseCIDR(s.CIDR); err != nil {
			return fmt.Errorf("無效的 CIDR: %s", s.CIDR)
		}
	}
	return nil
}

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)

// HostValid 判斷是否為 IP 位址或合法主機名稱
func HostValid(host string) bool {
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	// 全數字與點的字串必須是 IP
	if strings.Trim(host, "0123456789.") == "" {
		return false
	}
	return hostnamePattern.MatchString(host)
}

// SaveConfig 儲存配置到檔案
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失敗: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("寫入配置檔失敗: %w", err)
	}

	return nil
}
