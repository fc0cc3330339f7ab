package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/smira/go-statsd/v2"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := newRootCmd(log).Execute(); err != nil {
		log.Error().Err(err).Msg("statsd-emit failed")
		os.Exit(1)
	}
}

func newRootCmd(log zerolog.Logger) *cobra.Command {
	cfg := DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "statsd-emit",
		Short:         "Send single metric to statsd server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = DefaultConfigPath()
			}
			if cfgFile == "" {
				return nil
			}

			fc, err := LoadFileConfig(cfgFile)
			if err != nil {
				// default config file is optional
				if cfgPath == "" && errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			return ApplyFileConfig(&cfg, fc, changed)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to TOML config (default ~/.statsd-emit.toml)")
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "statsd server address host:port")
	flags.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "metric name prefix")
	flags.StringVar(&cfg.DNSServer, "dns-server", cfg.DNSServer, "nameserver ip:port used to resolve statsd host")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "how long to wait for send to complete")
	flags.IntVar(&cfg.MaxPacketSize, "max-packet-size", cfg.MaxPacketSize, "maximum UDP packet size")

	root.AddCommand(
		&cobra.Command{
			Use:   "counter <name> <delta>",
			Short: "Add delta to a counter",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				delta, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid delta %q: %w", args[1], err)
				}
				return emit(cfg, log, func(c *statsd.Client, done func(error)) {
					c.ImmediateCounter(args[0], delta, done)
				})
			},
		},
		&cobra.Command{
			Use:   "gauge <name> <value>",
			Short: "Set gauge value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return emit(cfg, log, func(c *statsd.Client, done func(error)) {
					c.ImmediateGauge(args[0], args[1], done)
				})
			},
		},
		&cobra.Command{
			Use:   "timing <name> <ms>",
			Short: "Record timing in milliseconds",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ms, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid timing %q: %w", args[1], err)
				}
				return emit(cfg, log, func(c *statsd.Client, done func(error)) {
					c.ImmediateTiming(args[0], ms, done)
				})
			},
		},
	)

	return root
}

// emit sends one metric and waits for the send attempt to finish
func emit(cfg Config, log zerolog.Logger, send func(c *statsd.Client, done func(error))) error {
	client := statsd.NewClient(cfg.Addr, cfg.ClientOptions(log)...)
	defer client.Close()

	done := make(chan error, 1)
	send(client, func(err error) { done <- err })

	select {
	case err := <-done:
		if err == nil {
			log.Debug().Str("addr", cfg.Addr).Msg("metric sent")
		}
		return err
	case <-time.After(cfg.Timeout):
		return fmt.Errorf("send to %s timed out after %s", cfg.Addr, cfg.Timeout)
	}
}
