// File: main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"broadband-tester/pkg/database"
	"broadband-tester/pkg/history"
	"broadband-tester/pkg/measurement"
	"broadband-tester/pkg/models"
)

var (
	debugFlag bool
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "broadband-tester",
	Short: "A tool for measuring broadband network performance",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelWarn
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full speed test against the best available server",
	Long: `Run a full speed test: fetch the server directory, probe candidate
servers for latency, jitter and loss, pick the best one, then measure
download and upload throughput over multiple concurrent connections.`,
	Run: func(cmd *cobra.Command, args []string) {
		saveFlag, _ := cmd.Flags().GetBool("save")
		storeFlag, _ := cmd.Flags().GetBool("store")
		verboseFlag, _ := cmd.Flags().GetBool("verbose")
		transportCfg, _ := cmd.Flags().GetString("transport")

		var dialer transport.StreamDialer
		if transportCfg != "" {
			d, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(transportCfg)
			if err != nil {
				logger.Error("Could not create transport dialer", "error", err)
				os.Exit(1)
			}
			dialer = d
		}

		cfg := engineConfig()
		if cfg.DirectoryURL == "" {
			logger.Error("directory.url is not configured")
			os.Exit(1)
		}

		svc := measurement.NewService(dialer, cfg, logger)
		if verboseFlag {
			svc.OnProgress(func(state measurement.State, message string) {
				fmt.Printf("[%s] %s\n", state, message)
			})
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Println("Starting speed test... (multi-connection mode)")
		result, err := svc.Run(ctx)
		if err != nil {
			logger.Error("Speed test failed", "error", err)
			fmt.Fprintf(os.Stderr, "Speed test failed: %v\n", err)
			os.Exit(1)
		}

		displayResults(result)

		if saveFlag {
			path := viper.GetString("history.file")
			total, err := history.Append(path, result, logger)
			if err != nil {
				logger.Error("Error saving result", "error", err)
				os.Exit(1)
			}
			fmt.Printf("\nResults saved to %s (total tests: %d)\n", path, total)
		}

		if storeFlag {
			db, err := initDB()
			if err != nil {
				logger.Error("Error initializing database", "error", err)
				os.Exit(1)
			}
			defer db.Close()

			if err := db.InsertResult(context.Background(), result); err != nil {
				logger.Error("Error storing result", "error", err)
				os.Exit(1)
			}
			logger.Info("Result stored in database", "id", result.ID)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previously saved speed test results",
	Run: func(cmd *cobra.Command, args []string) {
		storeFlag, _ := cmd.Flags().GetBool("store")
		limitFlag, _ := cmd.Flags().GetInt("limit")

		var results []models.MeasurementResult
		if storeFlag {
			db, err := initDB()
			if err != nil {
				logger.Error("Error initializing database", "error", err)
				os.Exit(1)
			}
			defer db.Close()

			results, err = db.RecentResults(context.Background(), limitFlag)
			if err != nil {
				logger.Error("Error reading stored results", "error", err)
				os.Exit(1)
			}
		} else {
			path := viper.GetString("history.file")
			var corrupted bool
			var err error
			results, corrupted, err = history.Load(path)
			if err != nil {
				logger.Error("Error reading result log", "error", err)
				os.Exit(1)
			}
			if corrupted {
				fmt.Fprintf(os.Stderr, "Warning: %s is corrupted; it will be overwritten by the next saved run\n", path)
				return
			}
		}
		if len(results) == 0 {
			fmt.Println("No saved results.")
			return
		}
		for _, r := range results {
			fmt.Printf("%s  %-24s  down %8.2f Mbps  up %8.2f Mbps  ping %6.2f ms  loss %.1f%%\n",
				r.Timestamp.Format("2006-01-02 15:04:05"),
				r.Server.Name,
				r.Download.Mbps,
				r.Upload.Mbps,
				r.Latency.AvgMs,
				r.Latency.LossRatio*100)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	runCmd.Flags().Bool("save", false, "Append the result to the result log")
	runCmd.Flags().Bool("store", false, "Also store the result in the configured database")
	runCmd.Flags().BoolP("verbose", "v", false, "Emit stage-progress diagnostics")
	runCmd.Flags().String("transport", "", "Measure through an outline transport config string")
	historyCmd.Flags().Bool("store", false, "Read results from the configured database instead of the result log")
	historyCmd.Flags().Int("limit", 20, "Maximum number of stored results to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.broadband-tester")
	viper.AddConfigPath("/etc/broadband-tester/")

	viper.SetDefault("directory.timeout", "10s")
	viper.SetDefault("ipinfo.url", "https://ipinfo.io")
	viper.SetDefault("probe.samples", 5)
	viper.SetDefault("probe.timeout", "2s")
	viper.SetDefault("probe.concurrency", 8)
	viper.SetDefault("speedtest.connections", 4)
	viper.SetDefault("speedtest.duration", "10s")
	viper.SetDefault("speedtest.rampup", "2s")
	viper.SetDefault("speedtest.grace", "1s")
	viper.SetDefault("speedtest.rate_limit_mbps", 0.0)
	viper.SetDefault("run.timeout", "2m")
	viper.SetDefault("history.file", history.DefaultPath)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// engineConfig turns the ambient viper configuration into the explicit
// config the orchestrator is constructed with.
func engineConfig() measurement.Config {
	cfg := measurement.Config{
		DirectoryURL:     viper.GetString("directory.url"),
		DirectoryTimeout: viper.GetDuration("directory.timeout"),
		IdentityURL:      viper.GetString("ipinfo.url"),
		IdentityToken:    viper.GetString("ipinfo.token"),
		OverallTimeout:   viper.GetDuration("run.timeout"),
	}
	cfg.Probe.Samples = viper.GetInt("probe.samples")
	cfg.Probe.PerSampleTimeout = viper.GetDuration("probe.timeout")
	cfg.Probe.Concurrency = viper.GetInt("probe.concurrency")
	cfg.Throughput.Connections = viper.GetInt("speedtest.connections")
	cfg.Throughput.Duration = viper.GetDuration("speedtest.duration")
	cfg.Throughput.RampUp = viper.GetDuration("speedtest.rampup")
	cfg.Throughput.Grace = viper.GetDuration("speedtest.grace")
	cfg.Throughput.RateLimitMbps = viper.GetFloat64("speedtest.rate_limit_mbps")
	return cfg
}

func displayResults(result *models.MeasurementResult) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 48))
	fmt.Println("SPEEDTEST RESULTS")
	fmt.Println(strings.Repeat("=", 48))
	fmt.Printf("Download Speed: %.2f Mbps\n", result.Download.Mbps)
	fmt.Printf("Upload Speed:   %.2f Mbps\n", result.Upload.Mbps)
	fmt.Printf("Ping/Latency:   %.2f ms\n", result.Latency.AvgMs)
	fmt.Printf("Jitter:         %.2f ms\n", result.Latency.JitterMs)
	fmt.Printf("Packet Loss:    %.1f%%\n", result.Latency.LossRatio*100)
	fmt.Printf("Server:         %s (%s)\n", result.Server.Name, result.Server.Host)
	fmt.Printf("ISP:            %s\n", result.Client.ISP)
	fmt.Printf("IP Address:     %s\n", result.Client.IP)
	fmt.Printf("Country:        %s\n", result.Client.Country)
	fmt.Printf("Test Time:      %s\n", result.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Println(strings.Repeat("=", 48))
}

func initDB() (*database.DB, error) {
	db, err := database.NewDB()
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}

	err = db.InitSchema(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
