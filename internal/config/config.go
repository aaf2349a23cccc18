// Package config loads the cupbot configuration: a YAML file, overridden by
// CUPBOT_* environment variables, overridden in turn by command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-cupbot/pkg/board"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/robot"
	"github.com/teslashibe/go-cupbot/pkg/targets"
	"github.com/teslashibe/go-cupbot/pkg/task"
	"github.com/teslashibe/go-cupbot/pkg/tracking"
)

// Environment variables.
const (
	EnvMode       = "CUPBOT_MODE"
	EnvBusTag     = "CUPBOT_BUS_TAG"
	EnvSerialPort = "CUPBOT_SERIAL_PORT"
	EnvTrackerURL = "CUPBOT_TRACKER_URL"
	EnvListen     = "CUPBOT_LISTEN"
	EnvCheckpoint = "CUPBOT_CHECKPOINT"
)

// Bus kinds.
const (
	BusSim    = "sim"
	BusSerial = "serial"
)

// Vec is a position written as [x, y, z].
type Vec [3]float64

// R3 converts v to a vector.
func (v Vec) R3() r3.Vector { return r3.Vector{X: v[0], Y: v[1], Z: v[2]} }

// Config is the full runtime configuration.
type Config struct {
	Mode       string `yaml:"mode"`
	Profile    string `yaml:"profile"`
	LogLevel   string `yaml:"log_level"`
	Listen     string `yaml:"listen"`
	StaticDir  string `yaml:"static_dir"`
	Checkpoint string `yaml:"checkpoint"`

	Bus     BusConfig     `yaml:"bus"`
	Board   board.Config  `yaml:"board"`
	Tracker TrackerConfig `yaml:"tracker"`
	Targets TargetsConfig `yaml:"targets"`
	Task    TaskConfig    `yaml:"task"`
	Loop    LoopConfig    `yaml:"loop"`
}

// BusConfig selects the bus adapter.
type BusConfig struct {
	Kind       string `yaml:"kind"` // sim or serial
	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`
}

// TrackerConfig configures the pose stream. An empty URL uses a static
// provider.
type TrackerConfig struct {
	URL               string        `yaml:"url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

// TargetsConfig locates the placement list.
type TargetsConfig struct {
	File       string  `yaml:"file"`
	Multiplier float64 `yaml:"multiplier"`
	Origin     Vec     `yaml:"origin"`
	SortByBase bool    `yaml:"sort_by_base"`
}

// TaskConfig holds the cycle geometry, thresholds and holds.
type TaskConfig struct {
	Entry      Vec `yaml:"entry"`
	Base       Vec `yaml:"base"`
	StartIndex int `yaml:"start_index"`

	EntryTolerance  float64 `yaml:"entry_tolerance"`
	AlignTolerance  float64 `yaml:"align_tolerance"`
	BaseReach       float64 `yaml:"base_reach"`
	CoarseReach     float64 `yaml:"coarse_reach"`
	FineReach       float64 `yaml:"fine_reach"`
	TransitEpsilon  float64 `yaml:"transit_epsilon"`
	ApproachEpsilon float64 `yaml:"approach_epsilon"`

	AlignHold       time.Duration `yaml:"align_hold"`
	PickupSettle    time.Duration `yaml:"pickup_settle"`
	ReachHold       time.Duration `yaml:"reach_hold"`
	GripHold        time.Duration `yaml:"grip_hold"`
	BackOffHold     time.Duration `yaml:"back_off_hold"`
	TurnAwayHold    time.Duration `yaml:"turn_away_hold"`
	ReleaseHold     time.Duration `yaml:"release_hold"`
	RetreatHold     time.Duration `yaml:"retreat_hold"`
	RetreatTurnHold time.Duration `yaml:"retreat_turn_hold"`
	StallWarnAfter  time.Duration `yaml:"stall_warn_after"`
}

// LoopConfig sets the control loop rates.
type LoopConfig struct {
	ControlRate time.Duration `yaml:"control_rate"`
	FrameRate   time.Duration `yaml:"frame_rate"`
	Heartbeat   uint64        `yaml:"heartbeat"`
}

// Default returns the reference robot's configuration.
func Default() Config {
	tc := task.DefaultConfig()
	sc := tracking.DefaultStreamConfig("")
	return Config{
		Mode:       robot.Autonomous.String(),
		Profile:    drive.DefaultProfile().Name,
		LogLevel:   "info",
		Listen:     ":8080",
		Checkpoint: "checkpoint.txt",
		Bus: BusConfig{
			Kind: BusSim,
			Baud: 115200,
		},
		Board: board.DefaultConfig(),
		Tracker: TrackerConfig{
			ReconnectInterval: sc.ReconnectInterval,
			StaleAfter:        sc.StaleAfter,
		},
		Targets: TargetsConfig{
			Multiplier: targets.DefaultMultiplier,
			SortByBase: true,
		},
		Task: TaskConfig{
			EntryTolerance:  tc.EntryTolerance,
			AlignTolerance:  tc.AlignTolerance,
			BaseReach:       tc.BaseReach,
			CoarseReach:     tc.CoarseReach,
			FineReach:       tc.FineReach,
			TransitEpsilon:  tc.TransitEpsilon,
			ApproachEpsilon: tc.ApproachEpsilon,
			AlignHold:       tc.AlignHold,
			PickupSettle:    tc.PickupSettle,
			ReachHold:       tc.ReachHold,
			GripHold:        tc.GripHold,
			BackOffHold:     tc.BackOffHold,
			TurnAwayHold:    tc.TurnAwayHold,
			ReleaseHold:     tc.ReleaseHold,
			RetreatHold:     tc.RetreatHold,
			RetreatTurnHold: tc.RetreatTurnHold,
			StallWarnAfter:  tc.StallWarnAfter,
		},
		Loop: LoopConfig{
			ControlRate: robot.DefaultControlRate,
			FrameRate:   robot.DefaultFrameRate,
			Heartbeat:   robot.DefaultHeartbeat,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; an
// empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CUPBOT_* variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Mode, EnvMode)
	set(&c.Board.Tag, EnvBusTag)
	set(&c.Tracker.URL, EnvTrackerURL)
	set(&c.Listen, EnvListen)
	set(&c.Checkpoint, EnvCheckpoint)
	if v := getenv(EnvSerialPort); v != "" {
		c.Bus.SerialPort = v
		c.Bus.Kind = BusSerial
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if _, err := robot.ParseControlMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := drive.ProfileByName(c.Profile); err != nil {
		errs = append(errs, err)
	}
	switch c.Bus.Kind {
	case BusSim:
	case BusSerial:
		if c.Bus.SerialPort == "" {
			errs = append(errs, errors.New("serial bus needs a serial port"))
		}
		if c.Bus.Baud <= 0 {
			errs = append(errs, fmt.Errorf("invalid baud rate %d", c.Bus.Baud))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bus kind %q", c.Bus.Kind))
	}
	if c.Board.Tag == "" {
		errs = append(errs, errors.New("board tag is empty"))
	}
	if c.Board.Frequency == 0 {
		errs = append(errs, errors.New("board frequency is zero"))
	}
	if c.Targets.Multiplier <= 0 {
		errs = append(errs, fmt.Errorf("targets multiplier must be positive, got %v", c.Targets.Multiplier))
	}
	if c.Loop.ControlRate <= 0 || c.Loop.FrameRate <= 0 {
		errs = append(errs, errors.New("loop rates must be positive"))
	}
	if c.Task.StartIndex < 0 {
		errs = append(errs, fmt.Errorf("negative start index %d", c.Task.StartIndex))
	}
	// The target count is only known after loading; check thresholds here.
	tc := c.TaskConfig(nil)
	tc.StartIndex = 0
	if err := tc.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ControlMode returns the parsed mode. Call Validate first.
func (c Config) ControlMode() robot.ControlMode {
	m, _ := robot.ParseControlMode(c.Mode)
	return m
}

// SpeedProfile returns the parsed profile. Call Validate first.
func (c Config) SpeedProfile() drive.SpeedProfile {
	p, err := drive.ProfileByName(c.Profile)
	if err != nil {
		return drive.DefaultProfile()
	}
	return p
}

// TaskConfig builds the sequencer configuration for the given targets.
func (c Config) TaskConfig(positions []r3.Vector) task.Config {
	t := c.Task
	return task.Config{
		Entry:           t.Entry.R3(),
		Base:            t.Base.R3(),
		Targets:         positions,
		StartIndex:      t.StartIndex,
		EntryTolerance:  t.EntryTolerance,
		AlignTolerance:  t.AlignTolerance,
		BaseReach:       t.BaseReach,
		CoarseReach:     t.CoarseReach,
		FineReach:       t.FineReach,
		TransitEpsilon:  t.TransitEpsilon,
		ApproachEpsilon: t.ApproachEpsilon,
		AlignHold:       t.AlignHold,
		PickupSettle:    t.PickupSettle,
		ReachHold:       t.ReachHold,
		GripHold:        t.GripHold,
		BackOffHold:     t.BackOffHold,
		TurnAwayHold:    t.TurnAwayHold,
		ReleaseHold:     t.ReleaseHold,
		RetreatHold:     t.RetreatHold,
		RetreatTurnHold: t.RetreatTurnHold,
		StallWarnAfter:  t.StallWarnAfter,
	}
}

// LoopConfig builds the control loop configuration.
func (c Config) LoopConfig() robot.Config {
	return robot.Config{
		Mode:          c.ControlMode(),
		ControlRate:   c.Loop.ControlRate,
		FrameRate:     c.Loop.FrameRate,
		Heartbeat:     c.Loop.Heartbeat,
		TeleopProfile: c.SpeedProfile(),
	}
}

// StreamConfig builds the tracker stream configuration.
func (c Config) StreamConfig() tracking.StreamConfig {
	sc := tracking.DefaultStreamConfig(c.Tracker.URL)
	if c.Tracker.ReconnectInterval > 0 {
		sc.ReconnectInterval = c.Tracker.ReconnectInterval
	}
	if c.Tracker.StaleAfter > 0 {
		sc.StaleAfter = c.Tracker.StaleAfter
	}
	return sc
}

// LoadTargets reads the target file, applies the origin offset and, when
// configured, orders the list farthest from the base first.
func (c Config) LoadTargets() ([]r3.Vector, error) {
	if c.Targets.File == "" {
		return nil, nil
	}
	positions, err := targets.Load(c.Targets.File, c.Targets.Multiplier)
	if err != nil {
		return nil, err
	}
	positions = targets.Offset(positions, c.Targets.Origin.R3())
	if c.Targets.SortByBase {
		positions = targets.SortByDistanceDesc(positions, c.Task.Base.R3())
	}
	return positions, nil
}
