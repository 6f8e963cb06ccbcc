package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/sweeney/kite-pilot/internal/logic"
)

// Wind speed unit conversions to m/s.
const (
	knotsToMPS = 0.514444
	kmhToMPS   = 1 / 3.6
	mphToMPS   = 0.44704
)

// referenceTrue marks an MWV angle measured from true north. "R" angles are
// relative to the sensor mounting and cannot be used as a wind direction.
const referenceTrue = "T"

// WindReader tracks the latest wind from an NMEA anemometer (MWV sentences).
// Latest may be called from any goroutine.
type WindReader struct {
	now func() time.Time

	mu     sync.Mutex
	sample logic.WindSample
	errors int
}

// NewWindReader creates a reader that stamps samples with now.
func NewWindReader(now func() time.Time) *WindReader {
	return &WindReader{now: now}
}

// Ingest parses one NMEA line. Sentences other than MWV, and MWV sentences
// carrying relative wind, are ignored.
func (w *WindReader) Ingest(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
		return fmt.Errorf("parse nmea: %w", err)
	}

	switch sentence.DataType() {
	case nmea.TypeMWV:
		m := sentence.(nmea.MWV)
		if m.Reference != referenceTrue {
			return nil
		}
		w.observe(m)
	default:
		// other talkers on a shared bus
	}
	return nil
}

func (w *WindReader) observe(m nmea.MWV) {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if !m.StatusValid {
		w.sample.Freshness = logic.Freshness{Timestamp: now, Valid: false}
		return
	}
	speed, ok := toMetresPerSecond(m.WindSpeed, m.WindSpeedUnit)
	if !ok {
		w.errors++
		return
	}
	w.sample.Freshness = logic.Freshness{Timestamp: now, Valid: true}
	w.sample.ObserveSpeed(speed)
	w.sample.Direction = logic.NormalizeDegrees(m.WindAngle)
}

func toMetresPerSecond(v float64, unit string) (float64, bool) {
	switch unit {
	case "M":
		return v, true
	case "N":
		return v * knotsToMPS, true
	case "K":
		return v * kmhToMPS, true
	case "S":
		return v * mphToMPS, true
	}
	return 0, false
}

// Latest returns the most recent wind sample. A zero timestamp means no
// sentence has been received yet.
func (w *WindReader) Latest() logic.WindSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sample
}

// Errors returns the number of sentences that failed to parse.
func (w *WindReader) Errors() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errors
}

// Run reads NMEA lines from r until it fails or ctx is cancelled. If r is
// an io.Closer it is closed on cancellation to unblock the read.
func (w *WindReader) Run(ctx context.Context, r io.Reader) error {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if perr := w.Ingest(line); perr != nil && w.Errors()%100 == 1 {
				log.Printf("wind: %v (line: %q)", perr, strings.TrimSpace(line))
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read anemometer: %w", err)
		}
	}
}

// OpenSerial opens the anemometer serial port 8N1.
func OpenSerial(port string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	p, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	return p, nil
}
