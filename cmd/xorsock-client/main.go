package main

import (
	"os"
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

type clientFlags struct {
	configPath string
	host       string
	port       int
	message    string
	key        string
	timeout    time.Duration
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "xorsock-client --host HOST --port PORT [--message TEXT]",
		Short: "Send XOR-obfuscated messages to an xorsock server",
		Long: `xorsock-client sends one message with --message, or reads lines from
standard input until an empty line or end of input.

Examples:
  xorsock-client --host 127.0.0.1 --port 5000 --message hello
  xorsock-client -H 127.0.0.1 -p 5000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			return run(cmd.Context(), session{
				cfg:     cfg,
				address: address(flags.host, flags.port),
				message: flags.message,
				in:      os.Stdin,
				out:     os.Stdout,
				logOut:  os.Stderr,
			})
		},
	}

	bindFlags(cmd, &flags)
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func bindFlags(cmd *cobra.Command, flags *clientFlags) {
	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML config file")
	f.StringVarP(&flags.host, "host", "H", "", "Server host")
	f.IntVarP(&flags.port, "port", "p", 0, "Server port")
	f.StringVarP(&flags.message, "message", "m", "", "Send this message and exit")
	f.StringVarP(&flags.key, "key", "k", "", "Obfuscation key shared with the server")
	f.DurationVar(&flags.timeout, "timeout", 0, "Per-operation I/O timeout (0 = none)")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func resolveConfig(cmd *cobra.Command, flags clientFlags) (config.ClientConfig, error) {
	if err := config.ValidatePort(flags.port); err != nil {
		return config.ClientConfig{}, err
	}

	cfg, err := config.LoadClientConfig(flags.configPath)
	if err != nil {
		return config.ClientConfig{}, err
	}

	f := cmd.Flags()
	if f.Changed("key") {
		cfg.Key = obfuscate.Key(flags.key)
	}
	if f.Changed("timeout") {
		cfg.IOTimeout = flags.timeout
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}

	if err = config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}
