// lightplay plays a standard MIDI file to a physical MIDI instrument and
// lights upcoming channel-1 keys ahead of time, waiting for the player to
// press and release them before the channel continues. Other channels play
// on schedule throughout.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"lightplay/device"
	"lightplay/sequencer"
	"lightplay/smf"
)

// logger is the process-wide structured logger. Safe to use before
// initLogger is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug, // include file:line in debug mode
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func main() {
	debug := flag.Bool("d", false, "enable debug logging (adds source location)")
	dryRun := flag.Bool("n", false, "dry run: parse and sequence without opening the midi device")
	portName := flag.String("port", "", "substring of the midi port name to use (default: first usable port)")
	serialDev := flag.String("serial", "", "serial device carrying raw midi bytes, used instead of a midi port")
	baud := flag.Int("baud", 38400, "serial baud rate")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	initLogger(*debug)

	if err := run(flag.Arg(0), *portName, *serialDev, *baud, *dryRun); err != nil {
		fmt.Fprintln(os.Stderr, "lightplay:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: lightplay [-dn] [-port name | -serial dev [-baud rate]] midifile")
	flag.PrintDefaults()
}

func run(path, portName, serialDev string, baud int, dryRun bool) error {
	logger.Info("starting up lightplay", "file", path, "dry_run", dryRun)

	midifile, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open midi file %q: %w", path, err)
	}
	defer midifile.Close()

	store := sequencer.NewStore()
	ticksPQN, err := smf.Parse(midifile, store, logger)
	if err != nil {
		return err
	}

	logger.Debug("sorting midi events for playback", "events", store.Len())
	store.SortByTicks()

	var dev device.Device
	if !dryRun {
		if serialDev != "" {
			dev, err = device.OpenSerial(serialDev, baud, logger)
		} else {
			dev, err = device.OpenMIDIPort(portName, logger)
		}
		if err != nil {
			return fmt.Errorf("could not open midi device: %w", err)
		}
		defer dev.Close()
	}

	player := sequencer.NewPlayer(dev, sequencer.Config{
		TicksPerQuarterNote: ticksPQN,
		DryRun:              dryRun,
		Logger:              logger,
	})
	if err := player.Play(store.Events()); err != nil {
		return err
	}

	logger.Info("playback done")
	return nil
}
