package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/adapter/nbd"
	"github.com/usebox/swiftnbd/pkg/config"
	"github.com/usebox/swiftnbd/pkg/metrics"
	"github.com/usebox/swiftnbd/pkg/stats"
	"github.com/usebox/swiftnbd/pkg/store"
	"github.com/usebox/swiftnbd/pkg/swift"
)

var startConfigFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the NBD server",
	Long: `Start the NBD server, publishing every export found in the secrets
file. The server runs in the foreground until SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	flags := startCmd.Flags()
	flags.StringVar(&startConfigFile, "config", "", "Path to config file (optional)")
	flags.String("secrets", config.DefaultSecretsFile, "Filename containing user/password")
	flags.StringP("auth-url", "a", config.DefaultAuthURL, "Default authentication URL")
	flags.StringP("bind-address", "b", config.DefaultBindAddress, "Bind address")
	flags.IntP("bind-port", "p", config.DefaultPort, "Bind port")
	flags.IntP("cache-limit", "c", config.DefaultCacheMB, "Cache memory limit in MB per export")
	flags.StringP("log-file", "l", "", "Log into the provided file")
	flags.String("log-format", "text", "Log format (text|json)")
	flags.String("pid-file", "", "Filename to store the PID")
	flags.Duration("stats-delay", config.DefaultStatsDelay, "Delay between stats log lines")
	flags.String("metrics-addr", "", "Expose Prometheus metrics on this address (host:port)")
	flags.Int("max-connections", 0, "Maximum concurrent NBD clients (0 = unlimited)")
	flags.BoolP("verbose", "v", false, "Enable verbose logging")

	v := viper.New()
	bindings := map[string]string{
		"secrets":         "secrets",
		"auth_url":        "auth-url",
		"bind_address":    "bind-address",
		"port":            "bind-port",
		"cache_limit":     "cache-limit",
		"log_file":        "log-file",
		"log_format":      "log-format",
		"pid_file":        "pid-file",
		"stats_delay":     "stats-delay",
		"metrics_address": "metrics-addr",
		"max_connections": "max-connections",
		"verbose":         "verbose",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	startViper = v
}

// startViper carries the flag bindings from init to runStart.
var startViper *viper.Viper

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(startViper, startConfigFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.LogLevel(),
		Format: cfg.LogFormat,
		Output: cfg.LogFile,
	}); err != nil {
		return err
	}

	logger.Info("Starting swiftnbd", "version", Version)

	if cfg.PIDFile != "" {
		if err := writePIDFile(cfg.PIDFile); err != nil {
			return err
		}
		defer func() {
			if err := os.Remove(cfg.PIDFile); err != nil {
				logger.Warn("Failed to remove PID file", "path", cfg.PIDFile, "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	exports, reporter, err := buildExports(ctx, cfg, m)
	if err != nil {
		return err
	}

	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddress); err != nil {
			logger.Error("Metrics endpoint failed", "error", err)
		}
	}()
	go reporter.Run(ctx)

	adapter := nbd.New(nbd.Config{
		BindAddress:     cfg.BindAddress,
		Port:            cfg.Port,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, exports, m)

	return adapter.Serve(ctx)
}

// buildExports opens a storage for every secrets section, skipping
// containers that are missing or not set up. Startup fails only when no
// export is usable.
func buildExports(ctx context.Context, cfg *config.Config, m *metrics.NBDMetrics) (map[string]*nbd.Export, *stats.Reporter, error) {
	secrets, err := config.LoadSecrets(cfg.SecretsFile, cfg.AuthURL)
	if err != nil {
		return nil, nil, err
	}
	if len(secrets) == 0 {
		return nil, nil, fmt.Errorf("no exports found in %s", cfg.SecretsFile)
	}

	reporter := stats.NewReporter(cfg.StatsDelay, m)
	exports := make(map[string]*nbd.Export, len(secrets))

	for _, export := range secrets {
		conn, err := swift.Dial(ctx, swift.Auth{
			AuthURL:  export.AuthURL,
			Username: export.Username,
			Password: export.Password,
		})
		if err != nil {
			logger.Error("Skipping export: authentication failed", "export", export.Name, "error", err)
			continue
		}

		st, err := store.Open(ctx, swift.New(conn, export.Name), cfg.CacheBytes(), export.ReadOnly)
		if err != nil {
			logger.Error("Skipping export", "export", export.Name, "error", err)
			continue
		}

		exports[export.Name] = &nbd.Export{
			Storage:  st,
			Counters: reporter.Register(export.Name, st),
		}
		logger.Info("Export ready",
			"export", export.Name,
			"size", st.Size(),
			"object_size", st.ObjectSize(),
			"objects", st.Objects(),
			"read_only", st.ReadOnly())
	}

	if len(exports) == 0 {
		return nil, nil, fmt.Errorf("no usable exports")
	}
	return exports, reporter, nil
}

// writePIDFile creates the PID file, failing if one already exists.
func writePIDFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("PID file %s already exists, is the server running?", path)
		}
		return fmt.Errorf("failed to create PID file %s: %w", path, err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}
