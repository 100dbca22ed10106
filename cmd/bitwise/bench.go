package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/Swind/go-timeslice/bitwise"
	"github.com/Swind/go-timeslice/probe"
)

// benchRow is one line of the bench table.
type benchRow struct {
	Mode     string
	Size     uint64
	Duration time.Duration
	Yields   int
	Lateness probe.Stats
}

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "run each entry point against a heartbeat on the regular pool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "size", Aliases: []string{"s"}, Value: "64MiB", Usage: "buffer size"},
			&cli.UintFlag{Name: "byte", Aliases: []string{"b"}, Value: 0x5a, Usage: "XOR parameter, 0..255"},
			&cli.StringSliceFlag{Name: "modes", Value: cli.NewStringSlice("yield", "bad", "dirty"), Usage: "entry points to compare"},
			&cli.DurationFlag{Name: "interval", Value: time.Millisecond, Usage: "heartbeat interval"},
		},
		Action: benchAction,
	}
}

func benchAction(c *cli.Context) error {
	size, err := parseSize("size", c.String("size"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	param, err := byteParam(c.Uint("byte"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	interval := c.Duration("interval")
	if interval <= 0 {
		return cli.Exit("interval must be positive", 2)
	}

	var modes []string
	for _, m := range c.StringSlice("modes") {
		for _, part := range strings.Split(m, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			if _, err := modeFunction(part); err != nil {
				return cli.Exit(err.Error(), 2)
			}
			modes = append(modes, part)
		}
	}
	if len(modes) == 0 {
		return cli.Exit("no modes given", 2)
	}

	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	src := make([]byte, size)
	for i := range src {
		src[i] = byte(i)
	}

	rows := make([]benchRow, 0, len(modes))
	for _, mode := range modes {
		row, err := rt.benchMode(c.Context, mode, src, param, interval)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		rows = append(rows, row)
	}

	fmt.Fprintln(c.App.Writer, renderBench(rows))
	return nil
}

// benchMode runs one call while a heartbeat beats on the regular pool.
func (rt *runtime) benchMode(ctx context.Context, mode string, src []byte, param byte, interval time.Duration) (benchRow, error) {
	function, err := modeFunction(mode)
	if err != nil {
		return benchRow{}, err
	}

	runner := rt.newRunner("heartbeat-" + mode)
	defer runner.Shutdown()

	hb := probe.NewHeartbeat(runner, interval, probe.WithSampleHook(rt.exporter.ObserveLateness))
	hb.Start()
	defer hb.Stop()

	// Let the heartbeat settle before loading the pool.
	time.Sleep(2 * interval)
	hb.Reset()

	start := time.Now()
	res, err := bitwise.Call(ctx, rt.host.Module, function, src, param)
	if err != nil {
		return benchRow{}, fmt.Errorf("%s: %w", function, err)
	}
	elapsed := time.Since(start)

	// Give a beat held back by the call time to run and be counted.
	time.Sleep(2 * interval)

	if err := verify(src, res.Output, param); err != nil {
		return benchRow{}, fmt.Errorf("%s: %w", function, err)
	}

	rt.logger.Info("bench mode finished",
		"mode", mode, "duration", elapsed, "yields", res.Yields, "samples", hb.Stats().Samples)

	return benchRow{
		Mode:     mode,
		Size:     uint64(len(src)),
		Duration: elapsed,
		Yields:   res.Yields,
		Lateness: hb.Stats(),
	}, nil
}

func verify(src, out []byte, param byte) error {
	if len(out) != len(src) {
		return fmt.Errorf("output length %d, want %d", len(out), len(src))
	}
	for i := range src {
		if out[i] != src[i]^param {
			return fmt.Errorf("byte %d is %#x, want %#x", i, out[i], src[i]^param)
		}
	}
	return nil
}

func renderBench(rows []benchRow) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"mode", "size", "duration", "yields", "beats", "max late", "mean late"})
	for _, r := range rows {
		tbl.AppendRow(table.Row{
			r.Mode,
			humanize.IBytes(r.Size),
			r.Duration.Round(time.Microsecond),
			r.Yields,
			r.Lateness.Samples,
			r.Lateness.Max.Round(time.Microsecond),
			r.Lateness.Mean.Round(time.Microsecond),
		})
	}
	return tbl.Render()
}
