package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile   string
	envFile   string
	logLevel  string
	logger    *zap.Logger
	appConfig *Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "ovumpoll",
	Short: "OVUM 熱泵 Modbus TCP 輪詢器",
	Long: `定期透過 Modbus TCP 讀取 OVUM ACP 熱泵控制器的保持暫存器，
解碼為具名的量測值與狀態標籤。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var loadErr error
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "generate" {
			appConfig, loadErr = LoadConfig(cfgFile, envFile)
		}
		if appConfig == nil || loadErr != nil {
			// 配置載入失敗時使用預設值
			appConfig = DefaultConfig()
		}
		if logLevel != "" {
			appConfig.Logging.Level = logLevel
		}

		var err error
		logger, err = initLogger(appConfig.Logging)
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}
		if loadErr != nil && cmd.Name() != "validate" {
			logger.Warn("載入配置失敗，使用預設配置", zap.Error(loadErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// pollCmd 輪詢命令
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "輪詢熱泵",
	Long: `依 scan_interval 持續輪詢熱泵，並在 metrics 埠提供指標與最新快照。
使用 --once 只執行一個週期並輸出快照。收到 SIGHUP 時重新載入連線設定。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if host, _ := cmd.Flags().GetString("host"); host != "" {
			appConfig.Device.Host = host
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			appConfig.Device.Port = port
		}
		if unit, _ := cmd.Flags().GetUint8("unit-id"); unit > 0 {
			appConfig.Device.UnitID = unit
		}
		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			appConfig.Device.ScanInterval = interval
		}
		if err := appConfig.Device.Validate(); err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		once, _ := cmd.Flags().GetBool("once")
		printEach, _ := cmd.Flags().GetBool("print")

		var metrics *Metrics
		if appConfig.Metrics.Enabled && !once {
			metrics = NewMetrics()
		}

		poller, err := NewPoller(appConfig.Device, appConfig.Poller,
			WithLogger(logger),
			WithMetrics(metrics),
		)
		if err != nil {
			return fmt.Errorf("建立輪詢器失敗: %w", err)
		}
		scheduler := NewScheduler(poller, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if once {
			defer poller.Close(context.Background())
			snapshot, err := scheduler.RunOnce(ctx)
			if len(snapshot) > 0 {
				if werr := writeSnapshot(cmd.OutOrStdout(), snapshot, format); werr != nil {
					return werr
				}
			}
			return err
		}

		if printEach {
			out := cmd.OutOrStdout()
			scheduler.Subscribe(func(s Snapshot) {
				if err := writeSnapshot(out, s, format); err != nil {
					logger.Warn("輸出快照失敗", zap.Error(err))
				}
			})
		}

		if metrics != nil {
			server := NewMetricsServer(metrics, scheduler, logger)
			if err := server.Start(appConfig.Metrics.Endpoint, appConfig.Metrics.Port); err != nil {
				logger.Warn("啟動指標伺服器失敗", zap.Error(err))
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Poller.ShutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}

		go watchReload(ctx, poller)

		return scheduler.Run(ctx)
	},
}

// watchReload 收到 SIGHUP 時重新載入配置並套用新的端點
func watchReload(ctx context.Context, poller *Poller) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := LoadConfig(cfgFile, envFile)
			if err != nil {
				logger.Warn("重新載入配置失敗", zap.Error(err))
				continue
			}
			d := cfg.Device
			if err := poller.UpdateEndpoint(ctx, d.Host, d.Port, d.UnitID, d.ScanInterval); err != nil {
				logger.Warn("套用新端點失敗，下一個週期重試", zap.Error(err))
				continue
			}
			logger.Info("已重新載入配置", zap.Stringer("endpoint", d.Endpoint()), zap.Duration("interval", d.ScanInterval))
		}
	}
}

// simulateCmd 模擬裝置命令
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "啟動模擬的 OVUM 控制器",
	Long:  "以典型運轉值啟動 Modbus TCP 從站，可注入故障、忙碌回應與延遲，用於測試輪詢器。",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := appConfig.Simulator
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			sc.Listen = listen
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			sc.Port = port
		}
		if fw, _ := cmd.Flags().GetInt64("firmware"); fw > 0 {
			sc.Firmware = fw
		}
		if fail, _ := cmd.Flags().GetStringSlice("fail"); len(fail) > 0 {
			sc.FailingBlocks = fail
		}
		if cmd.Flags().Changed("busy-rate") {
			sc.BusyRate, _ = cmd.Flags().GetFloat64("busy-rate")
		}
		if scenario, _ := cmd.Flags().GetString("scenario"); scenario != "" {
			sc.Scenario = scenario
		}
		if iface, _ := cmd.Flags().GetString("interface"); iface != "" {
			sc.Interface = iface
		}
		if cidr, _ := cmd.Flags().GetString("cidr"); cidr != "" {
			sc.CIDR = cidr
		}
		if err := sc.Validate(); err != nil {
			return err
		}

		blocks, err := ApplyScaleOverrides(DefaultBlocks(), appConfig.Poller.ScaleOverrides)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if provision, _ := cmd.Flags().GetBool("provision"); provision {
			if sc.CIDR == "" {
				return errors.New("--provision 需要 --cidr")
			}
			prov, err := NewAddressProvisioner(sc.Interface, sc.CIDR, logger)
			if err != nil {
				return err
			}
			if err := prov.Add(ctx); err != nil {
				return fmt.Errorf("配置位址失敗: %w", err)
			}
			defer func() {
				if err := prov.Remove(context.Background()); err != nil {
					logger.Warn("移除位址失敗", zap.Error(err))
				}
			}()
			sc.Listen = strings.SplitN(sc.CIDR, "/", 2)[0]
		}

		sim, err := NewSimulator(sc, blocks, logger)
		if err != nil {
			return err
		}
		if err := sim.Start(ctx); err != nil {
			return fmt.Errorf("啟動模擬裝置失敗: %w", err)
		}

		<-ctx.Done()
		logger.Info("收到關閉信號")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.GracefulTimeout)
		defer cancel()
		return sim.Stop(shutdownCtx)
	},
}

// blocksCmd 列出區塊
var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "列出暫存器區塊",
	RunE: func(cmd *cobra.Command, args []string) error {
		blocks, err := ApplyScaleOverrides(DefaultBlocks(), appConfig.Poller.ScaleOverrides)
		if err != nil {
			return err
		}
		return writeBlocks(cmd.OutOrStdout(), append([]BlockDescriptor{FirmwareBlock}, blocks...))
	},
}

// fieldsCmd 列出欄位
var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "列出快照欄位",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return writeSensors(cmd.OutOrStdout(), Sensors(), all)
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile, envFile)
		if err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		if _, err := NewPoller(cfg.Device, cfg.Poller); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "配置驗證通過")
		fmt.Fprintf(out, "  Device: %s (%s)\n", cfg.Device.Name, cfg.Device.Endpoint())
		fmt.Fprintf(out, "  Interval: %s\n", cfg.Device.ScanInterval)
		fmt.Fprintf(out, "  Retries: %d\n", cfg.Poller.MaxRetries)
		fmt.Fprintf(out, "  Scale overrides: %d\n", len(cfg.Poller.ScaleOverrides))
		return nil
	},
}

// configGenerateCmd 生成配置
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成範例配置",
	Long:  "生成範例配置檔。",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "config.json"
		}

		cfg := DefaultConfig()
		cfg.Device.Host = "192.168.1.50"

		if err := cfg.SaveConfig(output); err != nil {
			return fmt.Errorf("生成配置失敗: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "範例配置已生成: %s\n", output)
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ovumpoll version %s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env 檔案路徑")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日誌等級 (debug/info/warn/error)")

	// poll 命令 flags
	pollCmd.Flags().String("host", "", "熱泵 IP 或主機名稱")
	pollCmd.Flags().IntP("port", "p", 0, "Modbus TCP 埠號")
	pollCmd.Flags().Uint8("unit-id", 0, "Modbus Unit ID")
	pollCmd.Flags().Duration("interval", 0, "輪詢間隔")
	pollCmd.Flags().Bool("once", false, "只執行一個週期")
	pollCmd.Flags().Bool("print", false, "每個週期輸出快照")
	pollCmd.Flags().StringP("format", "f", "json", "輸出格式 (json/yaml)")

	// simulate 命令 flags
	simulateCmd.Flags().String("listen", "", "監聽位址")
	simulateCmd.Flags().IntP("port", "p", 0, "監聽埠號")
	simulateCmd.Flags().Int64("firmware", 0, "韌體版本")
	simulateCmd.Flags().StringSlice("fail", nil, "回應故障的區塊名稱")
	simulateCmd.Flags().Float64("busy-rate", 0, "回應忙碌的比例 (0-1)")
	simulateCmd.Flags().String("scenario", "", "運轉場景 (normal/defrost/alarm)")
	simulateCmd.Flags().Bool("provision", false, "在網路介面上配置 --cidr 位址 (Linux)")
	simulateCmd.Flags().StringP("interface", "i", "", "網路介面")
	simulateCmd.Flags().String("cidr", "", "模擬裝置位址 (例如 192.168.1.50/24)")

	// fields 命令 flags
	fieldsCmd.Flags().Bool("all", false, "包含預設停用的欄位")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "config.json", "輸出檔案路徑")

	// 組裝命令樹
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		pollCmd,
		simulateCmd,
		blocksCmd,
		fieldsCmd,
		configCmd,
		versionCmd,
	)
}

func initLogger(lc LoggingConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lc.Format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = level
	}
	output := lc.OutputPath
	if output == "" {
		output = "stdout"
	}
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// writeSnapshot 以 json 或 yaml 輸出快照
func writeSnapshot(w io.Writer, snapshot Snapshot, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(map[string]any(snapshot))
	case "json", "":
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化快照失敗: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return fmt.Errorf("不支援的輸出格式: %s", format)
	}
}

// writeBlocks 輸出區塊表格
func writeBlocks(w io.Writer, blocks []BlockDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tCOUNT\tFIELDS")
	for i := range blocks {
		b := &blocks[i]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", b.Name, b.Address, b.Count, strings.Join(b.Keys(), ","))
	}
	return tw.Flush()
}

// writeSensors 輸出欄位表格
func writeSensors(w io.Writer, sensors []Sensor, all bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tCATEGORY\tUNIT\tENABLED")
	for _, s := range sensors {
		if !all && !s.Enabled {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", s.Key, s.Name, s.Category, s.Unit, s.Enabled)
	}
	return tw.Flush()
}

// Execute 執行 CLI
func Execute() error {
	return rootCmd.Execute()
}
