package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/Swind/go-timeslice/bitwise"
)

func xorCommand() *cli.Command {
	return &cli.Command{
		Name:  "xor",
		Usage: "XOR every byte of a file with one byte",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Required: true, Usage: "input file"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "output file"},
			&cli.UintFlag{Name: "byte", Aliases: []string{"b"}, Value: 0x5a, Usage: "XOR parameter, 0..255"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "yield", Usage: "entry point: " + modeList()},
		},
		Action: xorAction,
	}
}

func xorAction(c *cli.Context) error {
	function, err := modeFunction(c.String("mode"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	param, err := byteParam(c.Uint("byte"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	src, err := os.ReadFile(c.String("in"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("read input: %v", err), 1)
	}

	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	start := time.Now()
	res, err := bitwise.Call(c.Context, rt.host.Module, function, src, param)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", function, err), 1)
	}
	elapsed := time.Since(start)

	if err := os.WriteFile(c.String("out"), res.Output, 0o644); err != nil {
		return cli.Exit(fmt.Sprintf("write output: %v", err), 1)
	}

	fmt.Fprintf(c.App.Writer, "%s: %s in %s, %d yields\n",
		function, humanize.IBytes(uint64(len(res.Output))), elapsed.Round(time.Microsecond), res.Yields)
	return nil
}

func modeFunction(mode string) (string, error) {
	function, ok := bitwise.Modes[strings.TrimSpace(mode)]
	if !ok {
		return "", fmt.Errorf("unknown mode %q, want one of %s", mode, modeList())
	}
	return function, nil
}

func modeList() string {
	modes := make([]string, 0, len(bitwise.Modes))
	for m := range bitwise.Modes {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return strings.Join(modes, ", ")
}

func byteParam(v uint) (byte, error) {
	if v > 255 {
		return 0, fmt.Errorf("byte must be in 0..255, got %d", v)
	}
	return byte(v), nil
}
