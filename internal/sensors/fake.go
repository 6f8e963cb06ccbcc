package sensors

import (
	"errors"
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
)

// FakeSource is a test double that returns scripted readings.
type FakeSource struct {
	// Samples contains scripted readings to return.
	// Each call to Read() consumes the next sample.
	Samples []logic.Reading

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error

	// Reads counts calls to Read.
	Reads int
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples ...logic.Reading) *FakeSource {
	return &FakeSource{Samples: samples}
}

// Read returns the next scripted sample. Valid samples without a timestamp
// are stamped with now. If samples are exhausted, returns the last sample
// repeatedly.
func (f *FakeSource) Read(now time.Time) (logic.Reading, error) {
	f.Reads++
	if f.ReadError != nil {
		return logic.Reading{}, f.ReadError
	}
	if len(f.Samples) == 0 {
		return logic.Reading{}, errors.New("no samples configured")
	}

	r := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	stamp(&r.Orientation.Freshness, now)
	stamp(&r.Line.Freshness, now)
	stamp(&r.Wind.Freshness, now)
	return r, nil
}

func stamp(f *logic.Freshness, now time.Time) {
	if f.Valid && f.Timestamp.IsZero() {
		f.Timestamp = now
	}
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the source to the beginning of samples.
func (f *FakeSource) Reset() {
	f.index = 0
	f.Reads = 0
	f.Closed = false
}
