// Package bus defines the capabilities the robot needs from the hardware
// extension bus: discovering nodes, starting a task on a node and creating
// digital, PWM and analog pins inside that task.
//
// Vendor bindings, the serial bridge and the simulator all implement these
// interfaces; the rest of the module depends only on this package.
package bus

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sentinel errors shared by adapters.
var (
	ErrTaskFinished = errors.New("bus: task finished")
	ErrPinInUse     = errors.New("bus: pin already in use")
	ErrNodeNotIdle  = errors.New("bus: node is not idle")
	ErrClosed       = errors.New("bus: closed")
	ErrUnknownNode  = errors.New("bus: unknown node")
)

// PinState is a digital output level.
type PinState int

const (
	Low PinState = iota
	High
)

func (s PinState) String() string {
	if s == High {
		return "high"
	}
	return "low"
}

// Pin identifies a pin on the extension board.
type Pin uint8

const (
	IO1 Pin = iota + 1
	IO2
	IO3
	IO4
	IO5
	IO6
	IO7
	IO8
	IOA1
	IOA2
	IOA3
	IOA4
)

var pinNames = [...]string{
	IO1: "IO1", IO2: "IO2", IO3: "IO3", IO4: "IO4",
	IO5: "IO5", IO6: "IO6", IO7: "IO7", IO8: "IO8",
	IOA1: "IOA1", IOA2: "IOA2", IOA3: "IOA3", IOA4: "IOA4",
}

func (p Pin) String() string {
	if int(p) < len(pinNames) && pinNames[p] != "" {
		return pinNames[p]
	}
	return fmt.Sprintf("pin(%d)", uint8(p))
}

// ParsePin accepts names such as "IO8" or "ioa3".
func ParsePin(s string) (Pin, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range pinNames {
		if name != "" && name == s {
			return Pin(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pin %q", s)
}

// MarshalText lets pins appear by name in config files.
func (p Pin) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a pin name.
func (p *Pin) UnmarshalText(b []byte) error {
	v, err := ParsePin(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// OutputPin is a digital output.
type OutputPin interface {
	SetState(PinState) error
	io.Closer
}

// PwmPin is a PWM output with a frequency fixed at creation.
type PwmPin interface {
	SetDuty(duty float64) error
	io.Closer
}

// AnalogPin reads a raw voltage at the pin.
type AnalogPin interface {
	Value() (float64, error)
	io.Closer
}

// Cotask is a running task bound to one node. Pins are created inside it
// and must be closed before the task itself.
type Cotask interface {
	CreateOutputPin(pin Pin, initial PinState) (OutputPin, error)
	CreatePwmPin(pin Pin, frequency uint32, duty float64) (PwmPin, error)
	CreateAnalogPin(pin Pin, refreshMs uint32) (AnalogPin, error)
	Run() error
	IsFinished() bool
	io.Closer
}

// NodeHandle identifies a node on the network.
type NodeHandle uint32

// NodeStatus is a node's availability.
type NodeStatus int

const (
	NodeIdle NodeStatus = iota
	NodeRunning
	NodeInvalid
)

func (s NodeStatus) String() string {
	switch s {
	case NodeIdle:
		return "idle"
	case NodeRunning:
		return "running"
	default:
		return "invalid"
	}
}

// TagProperty is the node string property matched against the configured tag.
const TagProperty = "Tag"

// Network is a live view of the nodes on the bus. UpdateID changes whenever
// the topology changes.
type Network interface {
	UpdateID() uint32
	NodeStatus(node NodeHandle) NodeStatus
	NodeStringProperty(node NodeHandle, key string) (string, error)
}

// NetworkRef yields the current native network, or nil when none exists yet.
type NetworkRef interface {
	Native() Network
}

// CotaskConstructor discovers nodes that support the task and starts it.
// It is acquired per use and must be closed afterwards.
type CotaskConstructor interface {
	FindSupportedNodes(net Network) ([]NodeHandle, error)
	StartTask(net Network, node NodeHandle) (Cotask, error)
	io.Closer
}

// Library hands out task constructors.
type Library interface {
	CotaskConstructor() (CotaskConstructor, error)
	io.Closer
}
