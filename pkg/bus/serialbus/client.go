// Package serialbus drives the extension bus through a bridge
// microcontroller on a serial line.
//
// Every request is one line starting with a command flag; the bridge answers
// with one line ("OK", "ERR <msg>" or a typed value). Node listings are
// multi-line and end with ".".
//
//	N ?                list nodes: "U <update>" then "N <id> <status> <tag>"... "."
//	S <node>           start the task on a node
//	G                  run the task
//	F ?                task finished? -> "F 0|1"
//	X                  stop the task
//	O <pin> <0|1>      create output pin
//	P <pin> <hz> <d>   create PWM pin
//	A <pin> <ms>       create analog pin
//	W <pin> <0|1>      write output
//	D <pin> <d>        set PWM duty
//	R <pin>            read analog -> "V <volts>"
//	C <pin>            release pin
package serialbus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/bus"
)

// Command flags understood by the bridge firmware.
const (
	FlagList       = 'N'
	FlagStart      = 'S'
	FlagRun        = 'G'
	FlagFinished   = 'F'
	FlagStop       = 'X'
	FlagOutput     = 'O'
	FlagPwm        = 'P'
	FlagAnalog     = 'A'
	FlagWrite      = 'W'
	FlagDuty       = 'D'
	FlagRead       = 'R'
	FlagClosePin   = 'C'
	listTerminator = "."
)

// DefaultBaudRate matches the bridge firmware.
const DefaultBaudRate = 115200

// ReadTimeout bounds each wait for a bridge reply.
const ReadTimeout = time.Second

// ErrTimeout is returned when the bridge stays silent for ReadTimeout.
var ErrTimeout = errors.New("serialbus: bridge reply timed out")

// timeoutReader reports the serial driver's timed-out read (0, nil) as
// ErrTimeout so bufio does not retry it.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}

// Client is a connection to the bridge. It implements bus.Library,
// bus.NetworkRef and bus.Network.
type Client struct {
	logger *slog.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
	r    *bufio.Reader

	// Node cache, refreshed by UpdateID.
	updateID uint32
	nodes    map[bus.NodeHandle]nodeInfo
	order    []bus.NodeHandle
	closed   bool
}

type nodeInfo struct {
	status bus.NodeStatus
	tag    string
}

// Open opens a serial port and wraps it in a Client.
func Open(portName string, baudRate int, logger *slog.Logger) (*Client, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return NewClient(port, logger), nil
}

// NewClient wraps an already open connection.
func NewClient(port io.ReadWriteCloser, logger *slog.Logger) *Client {
	return &Client{
		logger: log.OrDefault(logger).With("component", "serialbus"),
		port:   port,
		r:      bufio.NewReader(timeoutReader{port}),
		nodes:  make(map[bus.NodeHandle]nodeInfo),
	}
}

// exchange sends one request and returns the first reply line.
// The caller holds c.mu.
func (c *Client) exchange(flag byte, args ...any) (string, error) {
	if c.closed {
		return "", bus.ErrClosed
	}
	var sb strings.Builder
	sb.WriteByte(flag)
	for _, a := range args {
		fmt.Fprintf(&sb, " %v", a)
	}
	sb.WriteByte('\n')

	if _, err := io.WriteString(c.port, sb.String()); err != nil {
		return "", fmt.Errorf("write %c: %w", flag, err)
	}
	line, err := c.readLine()
	if err != nil {
		return "", fmt.Errorf("read reply to %c: %w", flag, err)
	}
	if strings.HasPrefix(line, "ERR") {
		return "", replyError(strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	}
	return line, nil
}

// readLine returns the next reply line. A timeout drops any partial line so
// the next exchange starts clean.
func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			c.r.Reset(timeoutReader{c.port})
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// expectOK runs a command whose only valid answer is "OK".
func (c *Client) expectOK(flag byte, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	line, err := c.exchange(flag, args...)
	if err != nil {
		return err
	}
	if line != "OK" {
		return fmt.Errorf("unexpected reply to %c: %q", flag, line)
	}
	return nil
}

// replyError maps bridge error text to the bus sentinels where possible.
func replyError(msg string) error {
	switch msg {
	case "finished":
		return bus.ErrTaskFinished
	case "busy":
		return bus.ErrPinInUse
	case "not idle":
		return bus.ErrNodeNotIdle
	case "unknown node":
		return bus.ErrUnknownNode
	}
	return errors.New("bridge: " + msg)
}

// Close closes the serial connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}
