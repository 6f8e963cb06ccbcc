// Package sensors provides the readings fed to the control cycle.
package sensors

import (
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
)

// Source is anything that can provide a reading per cycle.
type Source interface {
	// Read returns the samples available at now. Channels without fresh
	// data are marked invalid rather than returned as an error.
	Read(now time.Time) (logic.Reading, error)

	// Close releases the underlying devices.
	Close() error
}

// WindProvider supplies the latest wind sample.
type WindProvider interface {
	Latest() logic.WindSample
}

// WithWind overlays wind from an anemometer onto another source.
type WithWind struct {
	Base Source
	Wind WindProvider
}

// Read returns the base reading with the anemometer's wind, when it has
// produced one.
func (w WithWind) Read(now time.Time) (logic.Reading, error) {
	r, err := w.Base.Read(now)
	if err != nil {
		return r, err
	}
	if ws := w.Wind.Latest(); !ws.Timestamp.IsZero() {
		r.Wind = ws
	}
	return r, nil
}

// Close closes the base source.
func (w WithWind) Close() error {
	return w.Base.Close()
}
