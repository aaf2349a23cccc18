// Package protocol defines the websocket messages exchanged between the
// robot, the pose tracker bridge and the operator dashboard.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of websocket message
type MessageType string

const (
	// Tracker → Robot
	TypePose MessageType = "pose" // Robot and manipulator pose sample

	// Robot → Dashboard
	TypeStatus MessageType = "status" // Periodic controller status
	TypeEvent  MessageType = "event"  // Task events (cup taken, placed, ...)

	// Dashboard → Robot
	TypeKeys MessageType = "keys" // Teleoperation key set

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all websocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", msgType, err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Tracker → Robot
// =============================================================================

// PoseData is one tracking sample. Positions are metres in the tracking
// frame (Y up); yaw is radians about Y, positive turning right.
type PoseData struct {
	Position    [3]float64 `json:"position"`
	Yaw         float64    `json:"yaw"`
	Manipulator [3]float64 `json:"manipulator"`
	Stage       string     `json:"stage"` // inactive, 3dof, 6dof, blind6dof
	Value       float64    `json:"value,omitempty"`
}

// =============================================================================
// Robot → Dashboard
// =============================================================================

// StatusData is the controller snapshot pushed to dashboards.
type StatusData struct {
	RunID        string     `json:"run_id"`
	Mode         string     `json:"mode"`
	Phase        string     `json:"phase"`
	Step         string     `json:"step"`
	Index        int        `json:"index"`
	Count        int        `json:"count"`
	Moving       bool       `json:"moving"`
	Done         bool       `json:"done"`
	Profile      string     `json:"profile"`
	Session      string     `json:"session"`
	Stage        string     `json:"stage"`
	Voltage      float64    `json:"voltage"`
	Compensation float64    `json:"compensation"`
	Left         float64    `json:"left"`
	Right        float64    `json:"right"`
	Fan          bool       `json:"fan"`
	Position     [3]float64 `json:"position"`
	Target       [3]float64 `json:"target"`
}

// EventData describes a task event.
type EventData struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Index    int        `json:"index"`
	Position [3]float64 `json:"position"`
	At       int64      `json:"at"` // Unix milliseconds
}

// =============================================================================
// Dashboard → Robot
// =============================================================================

// KeysData lists the teleoperation keys currently held, e.g. ["w", "a"].
type KeysData struct {
	Keys []string `json:"keys"`
}
