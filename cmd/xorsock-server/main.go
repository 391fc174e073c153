package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zereker/xorsock/internal/config"
	"github.com/Zereker/xorsock/internal/console"
	"github.com/Zereker/xorsock/obfuscate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		console.New(os.Stderr).Error(err)
		os.Exit(1)
	}
}

type serverFlags struct {
	configPath   string
	host         string
	port         int
	key          string
	maxFrameSize uint32
	idleTimeout  time.Duration
	metricsAddr  string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:   "xorsock-server [port]",
		Short: "Acknowledge XOR-obfuscated, length-prefixed messages over TCP",
		Long: `xorsock-server accepts TCP connections and answers every framed message
with "ACK: Received <N> bytes", where N is the payload size.

Examples:
  xorsock-server
  xorsock-server 6000
  xorsock-server --host 0.0.0.0 --metrics-addr :9090`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	bindFlags(cmd, &flags)
	return cmd
}

func bindFlags(cmd *cobra.Command, flags *serverFlags) {
	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML config file")
	f.StringVarP(&flags.host, "host", "H", "", "Address to bind (default all interfaces)")
	f.IntVarP(&flags.port, "port", "p", 0, "Port to listen on (default 5000)")
	f.StringVarP(&flags.key, "key", "k", "", "Obfuscation key shared with clients")
	f.Uint32Var(&flags.maxFrameSize, "max-frame-size", 0, "Reject frames larger than this many bytes (0 = unlimited)")
	f.DurationVar(&flags.idleTimeout, "idle-timeout", 0, "Close connections idle for this long (0 = never)")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// resolveConfig layers the config file, then explicit flags, then the
// positional port argument.
func resolveConfig(cmd *cobra.Command, flags serverFlags, args []string) (config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig(flags.configPath)
	if err != nil {
		return config.ServerConfig{}, err
	}

	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = flags.host
	}
	if f.Changed("port") {
		cfg.Port = flags.port
	}
	if f.Changed("key") {
		cfg.Key = obfuscate.Key(flags.key)
	}
	if f.Changed("max-frame-size") {
		cfg.MaxFrameSize = flags.maxFrameSize
	}
	if f.Changed("idle-timeout") {
		cfg.IdleTimeout = flags.idleTimeout
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}

	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return config.ServerConfig{}, fmt.Errorf("invalid port: %q", args[0])
		}
		cfg.Port = port
	}

	if err = config.ValidateServerConfig(cfg); err != nil {
		return config.ServerConfig{}, err
	}
	return cfg, nil
}
