package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-cupbot/internal/config"
	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/battery"
	"github.com/teslashibe/go-cupbot/pkg/board"
	"github.com/teslashibe/go-cupbot/pkg/bus"
	"github.com/teslashibe/go-cupbot/pkg/bus/serialbus"
	"github.com/teslashibe/go-cupbot/pkg/bus/sim"
	"github.com/teslashibe/go-cupbot/pkg/checkpoint"
	"github.com/teslashibe/go-cupbot/pkg/robot"
	"github.com/teslashibe/go-cupbot/pkg/targets"
	"github.com/teslashibe/go-cupbot/pkg/task"
	"github.com/teslashibe/go-cupbot/pkg/tracking"
	"github.com/teslashibe/go-cupbot/pkg/web"
)

// simVoltage is the pack voltage the simulated battery pin reports.
const simVoltage = 12.0

// app wires the bus, board, tracker, sequencer, dashboard and control loop.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	lib     bus.Library
	board   *board.Manager
	tracker tracking.Provider
	stream  *tracking.Stream
	store   checkpoint.Store
	web     *web.Server
	ctrl    *robot.Controller
}

func newApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: log.Component("cupbot")}

	lib, net, err := openBus(cfg)
	if err != nil {
		return nil, err
	}
	a.lib = lib
	a.board = board.NewManager(net, lib, cfg.Board, log.L())

	if cfg.Tracker.URL != "" {
		a.stream = tracking.NewStream(cfg.StreamConfig(), log.L())
		a.tracker = a.stream
	} else {
		a.logger.Warn("no tracker configured, autonomous mode will wait for poses")
		a.tracker = tracking.NewStatic()
	}

	positions, err := cfg.LoadTargets()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("targets: %w", err)
	}
	taskCfg := cfg.TaskConfig(positions)
	if err := taskCfg.Validate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("task config: %w", err)
	}

	a.store = checkpoint.NewFileStore(cfg.Checkpoint)
	a.reportCheckpoint()

	a.web = web.NewServer(web.Options{
		Addr:      cfg.Listen,
		StaticDir: cfg.StaticDir,
		Logger:    log.L(),
	})

	seq := task.New(taskCfg, task.Deps{
		Store:     a.store,
		Fan:       a.board,
		Frequency: a.board,
		Notifier:  a.web,
		Logger:    log.L(),
	})

	a.ctrl = robot.NewController(cfg.LoopConfig(), robot.Deps{
		Board:     a.board,
		Sequencer: seq,
		Tracker:   a.tracker,
		Keys:      a.web.Keys(),
		Sink:      a.web,
		Logger:    log.L(),
	})
	a.web.SetCanceller(a.ctrl)

	a.logger.Info("initialized",
		"mode", cfg.Mode,
		"bus", cfg.Bus.Kind,
		"tag", cfg.Board.Tag,
		"targets", len(positions),
		"start_index", taskCfg.StartIndex,
		"run_id", a.ctrl.RunID())
	return a, nil
}

// openBus returns the library and network for the configured adapter.
func openBus(cfg config.Config) (bus.Library, bus.NetworkRef, error) {
	switch cfg.Bus.Kind {
	case config.BusSerial:
		c, err := serialbus.Open(cfg.Bus.SerialPort, cfg.Bus.Baud, log.L())
		if err != nil {
			return nil, nil, fmt.Errorf("open bus: %w", err)
		}
		return c, c, nil
	default:
		b := sim.New()
		b.AddNode(cfg.Board.Tag)
		b.SetAnalog(cfg.Board.Pins.Battery, simVoltage/battery.DividerRatio)
		return b, b, nil
	}
}

// reportCheckpoint logs where a previous run stopped, as a hint for
// -start-index.
func (a *app) reportCheckpoint() {
	rec, err := a.store.Load()
	if err != nil {
		a.logger.Warn("previous checkpoint unreadable", "error", err)
		return
	}
	if rec == "" {
		return
	}
	idx, stage, err := checkpoint.Parse(rec)
	if err != nil {
		a.logger.Warn("previous checkpoint malformed", "record", rec, "error", err)
		return
	}
	a.logger.Info("previous run checkpoint", "index", idx, "stage", stage)
}

// Run serves the dashboard, streams poses and runs the control loop until
// ctx is cancelled or a component fails.
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		runErrs []error
	)
	fail := func(name string, err error) {
		errMu.Lock()
		runErrs = append(runErrs, fmt.Errorf("%s: %w", name, err))
		errMu.Unlock()
		cancel()
	}

	if a.stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				fail("tracker", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.web.Run(ctx); err != nil {
			fail("web", err)
		}
	}()

	if err := a.ctrl.Run(ctx); err != nil {
		fail("controller", err)
	}
	cancel()
	wg.Wait()

	a.logger.Info("shutdown complete")
	return errors.Join(runErrs...)
}

// Close releases the checkpoint store and the bus library.
func (a *app) Close() {
	if a.board != nil {
		if err := a.board.Close(); err != nil {
			a.logger.Warn("board close", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("checkpoint close", "error", err)
		}
	}
	if a.lib != nil {
		if err := a.lib.Close(); err != nil {
			a.logger.Warn("bus close", "error", err)
		}
	}
}

// checkTargets loads the target list and reports problems without touching
// hardware.
func checkTargets(cfg config.Config) error {
	if cfg.Targets.File == "" {
		return errors.New("no targets file configured")
	}
	positions, err := cfg.LoadTargets()
	if err != nil {
		return err
	}
	if err := cfg.TaskConfig(positions).Validate(); err != nil {
		return err
	}

	base := cfg.Task.Base.R3()
	for i, p := range positions {
		log.Info("target", "index", i, "position", p, "distance_to_base", p.Distance(base))
	}
	for _, pair := range targets.CloseRoutes(positions, targets.DefaultMinSpacing) {
		log.Warn("consecutive targets are close",
			"index", pair.Index, "next", pair.Index+1, "distance", pair.Distance)
	}
	log.Info("targets ok", "count", len(positions), "file", cfg.Targets.File)
	return nil
}
