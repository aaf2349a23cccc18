// cupbot - autonomous pick-and-place controller for the cup robot
// Drives to the cup base, picks a cup with the suction fan, carries it to
// the next target position and repeats until every target is filled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-cupbot/internal/config"
	"github.com/teslashibe/go-cupbot/internal/log"
)

func main() {
	opts := parseFlags()

	log.Init(opts.cfg.LogLevel)

	if opts.checkTargets {
		if err := checkTargets(opts.cfg); err != nil {
			log.Error("target check failed", "error", err)
			os.Exit(1)
		}
		return
	}

	app, err := newApp(opts.cfg)
	if err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

type options struct {
	cfg          config.Config
	checkTargets bool
}

// parseFlags loads the config file, applies environment overrides, then
// command line flags.
func parseFlags() options {
	configPath := flag.String("config", "cupbot.yaml", "YAML config file (missing file uses defaults)")
	mode := flag.String("mode", "", "Control mode: teleop or autonomous")
	profile := flag.String("profile", "", "Teleop speed profile: default, medium, slow")
	busKind := flag.String("bus", "", "Bus adapter: sim or serial")
	serialPort := flag.String("serial-port", "", "Serial port of the bus bridge (implies -bus serial)")
	tracker := flag.String("tracker", "", "Pose stream websocket URL")
	targetsFile := flag.String("targets", "", "Target positions file")
	listen := flag.String("listen", "", "Dashboard listen address")
	startIndex := flag.Int("start-index", -1, "First target index (skip already placed cups)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	checkpointPath := flag.String("checkpoint", "", "Checkpoint file")
	checkTargets := flag.Bool("check-targets", false, "Load and validate the target list, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	cfg.ApplyEnv(os.Getenv)

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Mode, *mode)
	set(&cfg.Profile, *profile)
	set(&cfg.Bus.Kind, *busKind)
	set(&cfg.Tracker.URL, *tracker)
	set(&cfg.Targets.File, *targetsFile)
	set(&cfg.Listen, *listen)
	set(&cfg.LogLevel, *logLevel)
	set(&cfg.Checkpoint, *checkpointPath)
	if *serialPort != "" {
		cfg.Bus.SerialPort = *serialPort
		if *busKind == "" {
			cfg.Bus.Kind = config.BusSerial
		}
	}
	if *startIndex >= 0 {
		cfg.Task.StartIndex = *startIndex
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(2)
	}
	return options{cfg: cfg, checkTargets: *checkTargets}
}
