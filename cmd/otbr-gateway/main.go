package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"otbr-gateway/internal/gateway"
	"otbr-gateway/internal/hexcodec"
	"otbr-gateway/internal/otstack"
	"otbr-gateway/internal/otstack/cli"
	"otbr-gateway/internal/otstack/sim"
	"otbr-gateway/internal/store"
	"otbr-gateway/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Stack struct {
		Type           string `yaml:"type"` // "cli" or "sim"
		Port           string `yaml:"port"`
		Baud           int    `yaml:"baud"`
		CommandTimeout string `yaml:"command_timeout"`
	} `yaml:"stack"`
	Network struct {
		Autostart   bool   `yaml:"autostart"`
		Channel     uint8  `yaml:"channel"`
		PanID       uint16 `yaml:"pan_id"`
		ExtPanID    string `yaml:"extended_pan_id"`
		NetworkName string `yaml:"network_name"`
		NetworkKey  string `yaml:"network_key"`
	} `yaml:"network"`
	Gateway struct {
		ScanTimeout   string `yaml:"scan_timeout"`
		DiagCooldown  string `yaml:"diag_cooldown"`
		JoinerTimeout string `yaml:"joiner_timeout"`
	} `yaml:"gateway"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	switch c.Stack.Type {
	case "cli":
		if c.Stack.Port == "" {
			return fmt.Errorf("stack.port is required for the cli stack")
		}
	case "sim":
	default:
		return fmt.Errorf("unknown stack type: %q (supported: cli, sim)", c.Stack.Type)
	}
	if c.Network.Channel < 11 || c.Network.Channel > 26 {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	if c.Network.PanID == 0xFFFF {
		return fmt.Errorf("network.pan_id must not be 0xFFFF")
	}
	if len(c.Network.NetworkName) > 16 {
		return fmt.Errorf("network.network_name is longer than 16 bytes")
	}
	if _, err := c.network(); err != nil {
		return err
	}
	if _, err := c.gatewayConfig(); err != nil {
		return err
	}
	if _, err := parseDuration("stack.command_timeout", c.Stack.CommandTimeout); err != nil {
		return err
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// gatewayConfig converts the gateway section. Empty values keep the
// gateway defaults.
func (c *Config) gatewayConfig() (gateway.Config, error) {
	var gc gateway.Config
	var err error
	if gc.ScanTimeout, err = parseDuration("gateway.scan_timeout", c.Gateway.ScanTimeout); err != nil {
		return gc, err
	}
	if gc.DiagCooldown, err = parseDuration("gateway.diag_cooldown", c.Gateway.DiagCooldown); err != nil {
		return gc, err
	}
	if gc.JoinerTimeout, err = parseDuration("gateway.joiner_timeout", c.Gateway.JoinerTimeout); err != nil {
		return gc, err
	}
	return gc, nil
}

func (c *Config) network() (gateway.Network, error) {
	n := gateway.Network{
		Channel:     c.Network.Channel,
		PanID:       c.Network.PanID,
		NetworkName: c.Network.NetworkName,
	}
	var err error
	if n.ExtPanID, err = hexcodec.DecodeArray8(c.Network.ExtPanID); err != nil {
		return n, fmt.Errorf("network.extended_pan_id: %w", err)
	}
	if c.Network.NetworkKey != "" {
		key, err := hexcodec.DecodeArray16(c.Network.NetworkKey)
		if err != nil {
			return n, fmt.Errorf("network.network_key: %w", err)
		}
		n.NetworkKey = &key
	}
	return n, nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("otbr-gateway starting", "version", version)

	if err := run(cfg, logger); err != nil {
		logger.Error("exit", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *Config, logger *slog.Logger) error {
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	gate := gateway.NewGate()
	stack, err := createStack(cfg, gate, logger)
	if err != nil {
		return fmt.Errorf("create stack: %w", err)
	}
	defer stack.Close()

	metrics := gateway.NewMetricsCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gwCfg, _ := cfg.gatewayConfig()
	gw := gateway.New(stack, gate, gwCfg, logger,
		gateway.WithStore(db),
		gateway.WithMetrics(metrics),
	)
	defer gw.Close()

	if cfg.Network.Autostart {
		n, _ := cfg.network()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := gw.Start(ctx, n)
		cancel()
		if err != nil {
			return fmt.Errorf("start network: %w", err)
		}
	}

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(gw, cfg, logger)
	defer auto.Stop()

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithMetrics(reg),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(gw, logger, webOpts...)
	defer webServer.Stop()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(gw, cfg, logger)
	defer mqtt.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func createStack(cfg *Config, gate *gateway.Gate, logger *slog.Logger) (otstack.Stack, error) {
	switch cfg.Stack.Type {
	case "cli":
		timeout, _ := parseDuration("stack.command_timeout", cfg.Stack.CommandTimeout)
		var opts []cli.Option
		if timeout > 0 {
			opts = append(opts, cli.WithCommandTimeout(timeout))
		}
		logger.Info("using OpenThread CLI stack", "port", cfg.Stack.Port, "baud", cfg.Stack.Baud)
		s, err := cli.Open(cfg.Stack.Port, cfg.Stack.Baud, gate, logger, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sim":
		logger.Info("using simulated stack")
		return sim.New(gate, logger), nil
	default:
		return nil, fmt.Errorf("unknown stack type: %q (supported: cli, sim)", cfg.Stack.Type)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Stack.Type == "" {
		cfg.Stack.Type = "cli"
	}
	if cfg.Stack.Baud == 0 {
		cfg.Stack.Baud = 115200
	}
	if cfg.Network.Channel == 0 {
		cfg.Network.Channel = 15
	}
	if cfg.Network.PanID == 0 {
		cfg.Network.PanID = 0x1234
	}
	if cfg.Network.ExtPanID == "" {
		cfg.Network.ExtPanID = "dead00beef00cafe"
	}
	if cfg.Network.NetworkName == "" {
		cfg.Network.NetworkName = "OpenThread"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8081"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "otbr-gateway.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "otbr"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
