// vladtrace replays an allocation script against a buddy allocator and prints what happens.
//
// Each line of the script holds one command:
//
//	init <size>
//	<label> = malloc <n>
//	free <label>
//	stats
//	reveal
//	json
//	validate
//	end
//
// Labels are the letters a to z. Blank lines and text following a '#' are ignored.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"github.com/vkngwrapper/vlad/buddy"
	"github.com/vkngwrapper/vlad/internal/backing"
	"golang.org/x/exp/slog"
)

var (
	sizeFlag = &cli.UintFlag{
		Name:  "size",
		Usage: "Initialize an arena of at least this many bytes before the script runs",
	}
	mmapFlag = &cli.BoolFlag{
		Name:  "mmap",
		Usage: "Back the arena with an anonymous memory mapping instead of the Go heap",
	}
	trackFlag = &cli.BoolFlag{
		Name:  "track",
		Usage: "Track requested sizes of live allocations and report unreleased memory at end",
	}
	colorFlag = &cli.BoolFlag{
		Name:  "color",
		Usage: "Use ANSI colors in reveal output",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Allocator log level (debug, info, warn, error)",
		Value: "warn",
	}
)

func main() {
	app := &cli.App{
		Name:      "vladtrace",
		Usage:     "replay an allocation script against a buddy allocator",
		ArgsUsage: "[script]",
		Flags: []cli.Flag{
			sizeFlag,
			mmapFlag,
			trackFlag,
			colorFlag,
			logLevelFlag,
		},
		Action: trace,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func trace(ctx *cli.Context) error {
	if ctx.NArg() > 1 {
		return errors.New("at most one script can be replayed")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(ctx.String(logLevelFlag.Name))); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	options := buddy.CreateOptions{TrackAllocations: ctx.Bool(trackFlag.Name)}
	if ctx.Bool(mmapFlag.Name) {
		options.Backing = backing.Mmap
	}

	allocator := buddy.New(logger, options)
	defer allocator.End()

	if ctx.IsSet(sizeFlag.Name) {
		size := ctx.Uint(sizeFlag.Name)
		if uint64(size) > buddy.MaxArenaSize {
			return errors.Newf("arena size %d is larger than %d", size, buddy.MaxArenaSize)
		}
		allocator.Init(uint32(size))
	}

	var script io.Reader = os.Stdin
	if path := ctx.Args().First(); path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		script = file
	}

	return newRunner(ctx.App.Writer, allocator, ctx.Bool(colorFlag.Name)).run(script)
}
