// Package command defines the operator commands accepted from the web and
// MQTT surfaces and routes them to a Handler.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sweeney/kite-pilot/internal/logic"
)

var (
	// ErrUnknownCommand is returned for an unrecognised command kind.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrBadArgument is returned for a missing or non-finite angle.
	ErrBadArgument = errors.New("bad command argument")

	// ErrAutonomous is returned when a direction override arrives while the
	// autopilot is steering.
	ErrAutonomous = errors.New("autopilot is steering")
)

// Kind identifies a command variant.
type Kind string

const (
	KindMode      Kind = "mode"
	KindNext      Kind = "next"
	KindDirection Kind = "direction"
	KindEmergency Kind = "emergency"
)

// Command is one operator command.
type Command struct {
	Kind      Kind       `json:"command"`
	Mode      logic.Mode `json:"mode,omitempty"`
	Direction float64    `json:"direction,omitempty"`
	Trim      float64    `json:"trim,omitempty"`
}

// Handler receives commands.
type Handler interface {
	OnModeChange(mode logic.Mode) error
	// OnDirectionOverride drives the steering outputs directly. Dispatch
	// only sends it outside autonomous flight.
	OnDirectionOverride(direction, trim float64) error
	OnEmergency()
}

// ModeReader reports the current flight mode. Handlers implement it to
// support the next-mode command.
type ModeReader interface {
	CurrentMode() logic.Mode
}

// Dispatch routes c to h.
func Dispatch(h Handler, c Command) error {
	switch c.Kind {
	case KindMode:
		return h.OnModeChange(c.Mode)
	case KindNext:
		mr, ok := h.(ModeReader)
		if !ok {
			return fmt.Errorf("%w: handler cannot report its mode", ErrUnknownCommand)
		}
		return h.OnModeChange(logic.NextMode(mr.CurrentMode()))
	case KindDirection:
		if mr, ok := h.(ModeReader); ok && mr.CurrentMode().Autonomous() {
			return fmt.Errorf("%w: mode %s", ErrAutonomous, mr.CurrentMode())
		}
		return h.OnDirectionOverride(c.Direction, c.Trim)
	case KindEmergency:
		h.OnEmergency()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
}

type wireCommand struct {
	Command   string   `json:"command"`
	Mode      string   `json:"mode"`
	Direction *float64 `json:"direction"`
	Trim      *float64 `json:"trim"`
}

// Parse decodes a JSON command such as {"command":"mode","mode":"LAND"}.
func Parse(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}

	c := Command{Kind: Kind(strings.ToLower(strings.TrimSpace(w.Command)))}
	switch c.Kind {
	case KindMode:
		m, err := logic.ParseMode(w.Mode)
		if err != nil {
			return Command{}, err
		}
		c.Mode = m
	case KindDirection:
		if w.Direction == nil || w.Trim == nil {
			return Command{}, fmt.Errorf("%w: direction command needs direction and trim", ErrBadArgument)
		}
		var err error
		if c.Direction, err = finite("direction", *w.Direction); err != nil {
			return Command{}, err
		}
		if c.Trim, err = finite("trim", *w.Trim); err != nil {
			return Command{}, err
		}
	case KindNext, KindEmergency:
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Command)
	}
	return c, nil
}

// Values is the subset of url.Values used by FromValues.
type Values interface {
	Get(key string) string
}

// FromValues builds a command of kind from form values
// (mode=LAUNCH, direction=10&trim=-5).
func FromValues(kind Kind, v Values) (Command, error) {
	c := Command{Kind: kind}
	switch kind {
	case KindMode:
		m, err := logic.ParseMode(v.Get("mode"))
		if err != nil {
			return Command{}, err
		}
		c.Mode = m
	case KindDirection:
		var err error
		if c.Direction, err = parseAngle("direction", v.Get("direction")); err != nil {
			return Command{}, err
		}
		if c.Trim, err = parseAngle("trim", v.Get("trim")); err != nil {
			return Command{}, err
		}
	case KindNext, KindEmergency:
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, kind)
	}
	return c, nil
}

func parseAngle(name, s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("%w: %s missing", ErrBadArgument, name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadArgument, name, err)
	}
	return finite(name, v)
}

func finite(name string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %v", ErrBadArgument, name, v)
	}
	return v, nil
}
