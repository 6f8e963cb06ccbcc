// Command kite-pilot flies a tethered power kite: it reads the kite's
// sensors, runs the autopilot and drives the steering servos and winch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/kite-pilot/internal/actuator"
	"github.com/sweeney/kite-pilot/internal/control"
	"github.com/sweeney/kite-pilot/internal/logic"
	"github.com/sweeney/kite-pilot/internal/mqtt"
	"github.com/sweeney/kite-pilot/internal/pipeline"
	"github.com/sweeney/kite-pilot/internal/sensors"
	"github.com/sweeney/kite-pilot/internal/status"
	"github.com/sweeney/kite-pilot/internal/web"
)

type config struct {
	cycle      time.Duration
	telemetry  time.Duration
	heartbeat  time.Duration
	watchdog   time.Duration
	broker     string
	httpAddr   string
	source     string
	windPort   string
	windBaud   uint
	hardware   bool
	servoDir   string
	servoTrim  string
	winchChip  string
	winchLines string
	winchRate  float64
	maxTension float64
	escalate   bool
	printState bool
}

func main() {
	var cfg config
	flag.DurationVar(&cfg.cycle, "cycle", 50*time.Millisecond, "Control and sensor period")
	flag.DurationVar(&cfg.telemetry, "telemetry", 250*time.Millisecond, "Display and telemetry period")
	flag.DurationVar(&cfg.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.DurationVar(&cfg.watchdog, "watchdog", 5*time.Second, "Pipeline liveness timeout")
	flag.StringVar(&cfg.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address (empty to disable)")
	flag.StringVar(&cfg.httpAddr, "http", ":80", "HTTP dashboard address (empty to disable)")
	flag.StringVar(&cfg.source, "source", "sim", "Sensor source (sim)")
	flag.StringVar(&cfg.windPort, "wind-port", "", "Serial port of the NMEA anemometer (empty to disable)")
	flag.UintVar(&cfg.windBaud, "wind-baud", 4800, "Anemometer baud rate")
	flag.BoolVar(&cfg.hardware, "hardware", false, "Drive the real servos and winch")
	flag.StringVar(&cfg.servoDir, "servo-direction", "GPIO12", "PWM pin of the direction servo")
	flag.StringVar(&cfg.servoTrim, "servo-trim", "GPIO13", "PWM pin of the trim servo")
	flag.StringVar(&cfg.winchChip, "winch-chip", "gpiochip0", "GPIO chip of the winch stepper")
	flag.StringVar(&cfg.winchLines, "winch-lines", "17,27,22,23", "Winch coil line offsets A,B,C,D")
	flag.Float64Var(&cfg.winchRate, "winch-rate", actuator.DefaultMaxStepRate, "Winch maximum step rate (steps/s)")
	flag.Float64Var(&cfg.maxTension, "max-tension", 500, "Line tension ceiling (N)")
	flag.BoolVar(&cfg.escalate, "escalate", false, "Emergency stop when the tension ceiling or attitude limits are violated")
	flag.BoolVar(&cfg.printState, "print-state", false, "Print one sensor reading and exit")

	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config) error {
	if cfg.cycle <= 0 || cfg.telemetry <= 0 || cfg.watchdog <= 0 {
		return errors.New("-cycle, -telemetry and -watchdog must be positive")
	}

	start := time.Now()
	session := uuid.NewString()

	src, err := openSource(cfg.source, start)
	if err != nil {
		return err
	}
	defer src.Close()

	var wind *sensors.WindReader
	var windPort io.ReadCloser
	if cfg.windPort != "" {
		port, err := sensors.OpenSerial(cfg.windPort, cfg.windBaud)
		if err != nil {
			log.Printf("wind: anemometer unavailable, using %s wind: %v", cfg.source, err)
		} else {
			windPort = port
			wind = sensors.NewWindReader(time.Now)
			src = sensors.WithWind{Base: src, Wind: wind}
		}
	}

	if cfg.printState {
		r, err := src.Read(time.Now())
		if err != nil {
			return fmt.Errorf("read sensors: %w", err)
		}
		logic.NewFilter(logic.DefaultFilterConfig()).Apply(&r)
		printReading(r)
		return nil
	}

	act, err := openActuators(cfg)
	if err != nil {
		return err
	}

	ctlCfg := control.DefaultConfig()
	ctlCfg.Autopilot.CycleDuration = cfg.cycle
	ctlCfg.Safety.MaxTension = cfg.maxTension
	if ctlCfg.Safety.WarningTension >= cfg.maxTension {
		ctlCfg.Safety.WarningTension = 0.8 * cfg.maxTension
	}
	ctlCfg.EscalateViolations = cfg.escalate

	ctl := control.New(ctlCfg, act, start, time.Now)
	if err := ctl.Begin(); err != nil {
		log.Printf("running without actuators")
	}
	defer ctl.Close()

	tracker := status.NewTracker(start, session, status.Config{
		CycleMs:     cfg.cycle.Milliseconds(),
		TelemetryMs: cfg.telemetry.Milliseconds(),
		HeartbeatMs: cfg.heartbeat.Milliseconds(),
		WatchdogMs:  cfg.watchdog.Milliseconds(),
		Broker:      cfg.broker,
		HTTPAddr:    cfg.httpAddr,
		Source:      cfg.source,
		WindPort:    cfg.windPort,
		Hardware:    cfg.hardware,
		MaxTension:  cfg.maxTension,
		Escalate:    cfg.escalate,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.Update(flightFrom(ctl.View()))

	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.broker,
			ClientID: "kite-pilot-" + session[:8],
			Commands: ctl,
		})
		if err != nil {
			log.Printf("mqtt: disabled: %v", err)
		} else {
			defer pub.Close()
			publisher, mqttStatus = pub, pub
			tracker.SetMQTTConnected(pub.IsConnected())
		}
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	if err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	slot := pipeline.NewSlot[logic.Reading]()
	wd := pipeline.NewWatchdog(start, pipeline.StageSensor, pipeline.StageControl, pipeline.StageDisplay)

	sensorTick := time.NewTicker(cfg.cycle)
	defer sensorTick.Stop()
	g.Go(func() error {
		return runSensors(gctx, src, slot, wd, time.Now, sensorTick.C)
	})

	if wind != nil {
		g.Go(func() error {
			if err := wind.Run(gctx, windPort); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("wind: %v", err)
			}
			return nil
		})
	}

	hub := web.NewHub()
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if cfg.httpAddr != "" {
		srv := web.New(cfg.httpAddr, tracker, ctl, hub)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
		log.Printf("http dashboard listening on %s", cfg.httpAddr)
	}

	log.Printf("started: session=%s cycle=%v telemetry=%v source=%s hardware=%v broker=%s",
		session, cfg.cycle, cfg.telemetry, cfg.source, cfg.hardware, cfg.broker)

	telemetryTick := time.NewTicker(cfg.telemetry)
	defer telemetryTick.Stop()
	watchTick := time.NewTicker(cfg.watchdog / 2)
	defer watchTick.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = runLoop(loopDeps{
		ctl:             ctl,
		slot:            slot,
		watchdog:        wd,
		publisher:       publisher,
		mqttStatus:      mqttStatus,
		tracker:         tracker,
		hub:             hub,
		heartbeat:       cfg.heartbeat,
		watchdogTimeout: cfg.watchdog,
		now:             time.Now,
	}, telemetryTick.C, watchTick.C, sigCh)

	cancel()
	slot.Close()
	if werr := g.Wait(); werr != nil {
		log.Printf("shutdown: %v", werr)
	}
	return err
}

// runSensors reads the source on every tick and publishes the latest
// reading to the slot.
func runSensors(ctx context.Context, src sensors.Source, slot *pipeline.Slot[logic.Reading], wd *pipeline.Watchdog, now func() time.Time, tick <-chan time.Time) error {
	failing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			t := now()
			r, err := src.Read(t)
			if err != nil {
				if !failing {
					log.Printf("sensors: read error: %v", err)
					failing = true
				}
				continue
			}
			if failing {
				log.Printf("sensors: recovered")
				failing = false
			}
			slot.Put(r)
			wd.Beat(pipeline.StageSensor, t)
		}
	}
}

type loopDeps struct {
	ctl             *control.Controller
	slot            *pipeline.Slot[logic.Reading]
	watchdog        *pipeline.Watchdog
	publisher       mqtt.Publisher
	mqttStatus      mqtt.ConnectionStatus
	tracker         *status.Tracker
	hub             *web.Hub
	heartbeat       time.Duration
	watchdogTimeout time.Duration
	now             func() time.Time
}

func runLoop(d loopDeps, telemetry, watch <-chan time.Time, sig <-chan os.Signal) error {
	var telemetryFailing bool
	var missing []pipeline.Stage

	refreshMQTT := func() {
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason := signalName(s)
			refreshMQTT()
			d.tracker.Update(flightFrom(d.ctl.View()))
			snap := d.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  snap.Now,
				Event:      mqtt.EventShutdown,
				Reason:     reason,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, reason),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-d.slot.Ready():
			r, ok := d.slot.Take()
			if !ok {
				continue
			}
			t := d.now()
			for _, tr := range d.ctl.Cycle(t, r) {
				if err := d.publisher.Publish(tr); err != nil {
					log.Printf("publish error: %v", err)
				}
			}
			d.watchdog.Beat(pipeline.StageControl, t)
			d.tracker.Update(flightFrom(d.ctl.View()))

			if hb := d.ctl.CheckHeartbeat(t, d.heartbeat); hb != nil {
				log.Printf("heartbeat: uptime=%v mode=%s transitions=%d flight_cycles=%d energy=%.2fWh",
					hb.Uptime, hb.Mode, hb.Transitions, hb.FlightCycles, hb.TotalEnergy)
				refreshMQTT()
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				snap := d.tracker.Snapshot()
				if err := d.publisher.PublishSystem(mqtt.SystemEvent{
					Timestamp:  hb.Timestamp,
					Event:      mqtt.EventHeartbeat,
					RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
				}); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}

		case <-telemetry:
			refreshMQTT()
			frame := status.FormatTelemetry(d.tracker.Snapshot())
			if d.hub != nil {
				d.hub.Broadcast(frame)
			}
			if err := d.publisher.PublishTelemetry(frame); err != nil {
				if !telemetryFailing {
					log.Printf("telemetry publish error: %v", err)
					telemetryFailing = true
				}
			} else if telemetryFailing {
				log.Printf("telemetry publishing resumed")
				telemetryFailing = false
			}
			d.watchdog.Beat(pipeline.StageDisplay, d.now())

		case <-watch:
			stages := d.watchdog.Check(d.now(), d.watchdogTimeout)
			if !sameStages(stages, missing) {
				if len(stages) > 0 {
					log.Printf("watchdog: stages not responding: %v", stages)
				} else {
					log.Printf("watchdog: all stages responding")
				}
				missing = stages
			}
			names := make([]string, 0, len(stages))
			for _, st := range stages {
				names = append(names, string(st))
			}
			d.tracker.SetMissingStages(names)
		}
	}
}

func flightFrom(v control.View) status.Flight {
	return status.Flight{
		Pilot:    v.State,
		Targets:  v.Targets,
		Outputs:  v.Outputs,
		Attached: v.Attached,
		Reading:  v.Reading,
		Warnings: v.Warnings,
		Cycles:   v.Cycles,
	}
}

func sameStages(a, b []pipeline.Stage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func openSource(name string, start time.Time) (sensors.Source, error) {
	switch name {
	case "sim":
		return sensors.NewSimSource(start), nil
	}
	return nil, fmt.Errorf("unknown sensor source %q", name)
}

// openActuators builds the output set. Devices that fail to open stay nil
// and the controller runs without outputs.
func openActuators(cfg config) (*actuator.Actuators, error) {
	var dir, trim actuator.Servo
	var winch actuator.Stepper

	if cfg.hardware {
		lines, err := parseLines(cfg.winchLines)
		if err != nil {
			return nil, err
		}
		if s, err := actuator.NewPWMServo(cfg.servoDir); err != nil {
			log.Printf("actuator: direction servo: %v", err)
		} else {
			dir = s
		}
		if s, err := actuator.NewPWMServo(cfg.servoTrim); err != nil {
			log.Printf("actuator: trim servo: %v", err)
		} else {
			trim = s
		}
		if st, err := actuator.NewGPIOStepper(cfg.winchChip, lines); err != nil {
			log.Printf("actuator: winch: %v", err)
		} else {
			winch = st
		}
	} else {
		log.Printf("actuator: -hardware not set, outputs disabled")
	}
	return actuator.New(dir, trim, winch, cfg.winchRate), nil
}

func parseLines(s string) ([4]int, error) {
	var lines [4]int
	parts := strings.Split(s, ",")
	if len(parts) != len(lines) {
		return lines, fmt.Errorf("winch-lines: want 4 offsets, got %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return lines, fmt.Errorf("winch-lines: bad offset %q", p)
		}
		lines[i] = n
	}
	return lines, nil
}

func printReading(r logic.Reading) {
	fmt.Printf("Attitude: roll %.1f pitch %.1f yaw %.1f (valid %v)\n",
		r.Orientation.Roll, r.Orientation.Pitch, r.Orientation.Yaw, r.Orientation.Valid)
	fmt.Printf("Line: tension %.1f N length %.1f m (valid %v)\n",
		r.Line.Tension, r.Line.Length, r.Line.TensionValid)
	fmt.Printf("Wind: %.1f m/s from %.1f (gust %.1f, valid %v)\n",
		r.Wind.Speed, r.Wind.Direction, r.Wind.GustSpeed, r.Wind.Valid)
}

// nopPublisher stands in when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) Publish(logic.Transition) error { return nil }
func (nopPublisher) PublishTelemetry([]byte) error { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
