// Command bitwise runs the exor functions on a local host and compares how
// each entry point treats the rest of the pool.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig       = "config"
	flagWorkers      = "workers"
	flagDirtyWorkers = "dirty-workers"
	flagLogLevel     = "log-level"
	flagMetricsAddr  = "metrics-addr"
	flagSliceBytes   = "slice"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "bitwise",
		Usage:     "XOR buffers on a cooperative host and measure pool responsiveness",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"BITWISE_CONFIG"},
			},
			&cli.IntFlag{
				Name:    flagWorkers,
				Usage:   "regular pool workers",
				EnvVars: []string{"BITWISE_WORKERS"},
			},
			&cli.IntFlag{
				Name:    flagDirtyWorkers,
				Usage:   "dirty CPU pool workers",
				EnvVars: []string{"BITWISE_DIRTY_WORKERS"},
			},
			&cli.StringFlag{
				Name:    flagLogLevel,
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"BITWISE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    flagMetricsAddr,
				Usage:   "serve Prometheus metrics on this address",
				EnvVars: []string{"BITWISE_METRICS_ADDR"},
			},
			&cli.StringFlag{
				Name:    flagSliceBytes,
				Usage:   "first episode slice size, e.g. 4MiB",
				EnvVars: []string{"BITWISE_SLICE"},
			},
		},
		Commands: []*cli.Command{
			xorCommand(),
			benchCommand(),
		},
	}
}

// setup resolves the configuration and starts a host for one command.
func setup(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c.String(flagConfig))
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	cfg.applyFlags(c)
	if err := cfg.validate(); err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := newLogger(c.App.ErrWriter, level)

	rt, err := startRuntime(c.Context, cfg, logger)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("start host: %v", err), 1)
	}
	return rt, nil
}
