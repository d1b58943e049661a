package main

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/filament-sensor/internal/gpio"
	"github.com/sweeney/filament-sensor/internal/logic"
	"github.com/sweeney/filament-sensor/internal/metrics"
	"github.com/sweeney/filament-sensor/internal/mqtt"
	"github.com/sweeney/filament-sensor/internal/protocol"
	"github.com/sweeney/filament-sensor/internal/serial"
	"github.com/sweeney/filament-sensor/internal/status"
)

const (
	// tickInterval is the cadence of the time-driven evaluation loop.
	tickInterval = 50 * time.Millisecond

	portReadTimeout = 200 * time.Millisecond
)

// printerLink is the slice of serial.Link the daemon uses, split out so
// tests can substitute a scripted fake.
type printerLink interface {
	Start(onLine func(line string))
	Shutdown()
	Connected() bool
	Send(line string) error
	Tail(since time.Time) []serial.TailLine
}

// daemon bundles the wired-up components. Construction acquires hardware;
// runLoop drives the time-based behavior.
type daemon struct {
	cfg settings
	log *slog.Logger

	mon    *logic.Monitor
	link   printerLink
	inputs gpio.Inputs

	// pub and mqttStatus are nil when -broker is empty.
	pub        mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus

	tracker *status.Tracker
	rec     *metrics.Recorder

	lastConnected        bool
	lastHeartbeat        time.Time
	lastPrinterHeartbeat time.Time
	lastMetrics          time.Time
}

func newDaemon(s settings, log *slog.Logger) (*daemon, error) {
	d := &daemon{cfg: s, log: log}
	start := time.Now()
	d.mon = logic.NewMonitor(monitorConfig(s), start)

	inputs, err := gpio.NewRealInputs(gpio.Config{
		Chip:            s.chip,
		MotionPin:       s.motionPin,
		RunoutPin:       s.runoutPin,
		RunoutEnabled:   s.runoutEnabled,
		RunoutActiveLow: s.runoutActiveLow,
	}, d.onPulse, d.onRunoutEdge)
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	d.inputs = inputs

	d.link = serial.NewLink(s.port, portDialer(s), log)

	if s.broker != "" {
		pub, err := mqtt.NewRealPublisher(s.broker, log)
		if err != nil {
			log.Warn("mqtt unavailable, continuing without it", "broker", s.broker, "err", err)
		} else {
			d.pub = pub
			d.mqttStatus = pub
		}
	}

	d.tracker = status.NewTracker(start, statusConfig(s))
	d.rec = metrics.NewRecorder(nil)
	return d, nil
}

// close releases hardware and connections. The HTTP server is shut down by
// run's own defer.
func (d *daemon) close() {
	d.link.Shutdown()
	if err := d.inputs.Close(); err != nil {
		d.log.Warn("gpio close failed", "err", err)
	}
	if d.pub != nil {
		d.pub.Close()
	}
}

func portDialer(s settings) serial.Dialer {
	return func() (serial.Port, error) {
		return serial.OpenPort(serial.PortConfig{
			Device:      s.port,
			Baud:        s.baud,
			ReadTimeout: portReadTimeout,
			AssertDTR:   s.dtr,
			AssertRTS:   s.rts,
		})
	}
}

func monitorConfig(s settings) logic.Config {
	return logic.Config{
		JamTimeout:       s.jamTimeout,
		ArmHold:          s.armHold,
		RequireActive:    s.requireActive,
		ActiveRecent:     s.activeRecent,
		AutoReset:        s.autoReset,
		ResetSustain:     s.resetSustain,
		ResetMinPulses:   s.resetMinPulses,
		PostResetGrace:   s.postResetGrace,
		PostTriggerGrace: s.postTriggerGrace,
	}
}

func statusConfig(s settings) status.Config {
	return status.Config{
		Port:             s.port,
		Baud:             s.baud,
		MotionPin:        s.motionPin,
		RunoutPin:        s.runoutPin,
		RunoutEnabled:    s.runoutEnabled,
		JamTimeoutMs:     s.jamTimeout.Milliseconds(),
		ArmHoldMs:        s.armHold.Milliseconds(),
		RunoutDebounceMs: s.runoutDebounce.Milliseconds(),
		HeartbeatMs:      s.heartbeat.Milliseconds(),
		RequireActive:    s.requireActive,
		AutoReset:        s.autoReset,
		DryRun:           s.dryRun,
		PauseGcode:       s.pauseGcode,
		Broker:           s.broker,
		HTTPAddr:         s.httpAddr,
		MetricsFile:      s.metricsFile,
	}
}

// onPulse runs on the gpiocdev event goroutine.
func (d *daemon) onPulse() {
	d.mon.OnPulse(time.Now())
}

// onRunoutEdge runs on the gpiocdev event goroutine. The settle check is
// deferred so the callback never blocks; a stale check is discarded by the
// monitor via the token.
func (d *daemon) onRunoutEdge() {
	token := d.mon.OnRunoutEdge(time.Now())
	time.AfterFunc(d.cfg.runoutDebounce, func() {
		asserted, err := d.inputs.RunoutAsserted()
		if err != nil {
			d.log.Warn("runout read failed", "err", err)
			return
		}
		if ev := d.mon.SettleRunout(token, asserted, time.Now()); ev != nil {
			d.deliver(*ev)
		}
	})
}

// handleLine processes one received printer line. It runs on the serial
// reader goroutine.
func (d *daemon) handleLine(line string) {
	now := time.Now()

	if cmd, ok := protocol.ParseControl(line); ok {
		d.applyControl(cmd, now)
	}
	if protocol.IsBusy(line) {
		d.mon.RecordEvidence(now)
	}
	if rep, ok := protocol.ParseTemps(line); ok && rep.HotendTarget >= d.cfg.armTempThreshold {
		d.mon.RecordEvidence(now)
	}

	if d.cfg.quietTemps && protocol.IsTempLine(line) {
		return
	}
	d.log.Info("printer", "line", line)
}

func (d *daemon) applyControl(cmd logic.Command, now time.Time) {
	d.mon.HandleControl(cmd, now)
	d.log.Info("sensor control", "cmd", string(cmd))
}

// announce sends an operator-visible line to the printer console. Failures
// are expected while disconnected.
func (d *daemon) announce(text string) {
	if err := d.link.Send(protocol.Announcement(text)); err != nil {
		d.log.Debug("announce failed", "text", text, "err", err)
	}
}

// deliver acts on a monitor event: log it, announce it on the printer
// console, publish it, and for faults send the pause command. A send failure
// flags the fault for replay on the next reconnect.
func (d *daemon) deliver(ev logic.Event) {
	switch ev.Type {
	case logic.EventJam:
		d.log.Warn("jam declared", "silent_for", ev.SilentFor, "sending_action", !d.cfg.dryRun)
		d.announce("SFS: Jam detected")
	case logic.EventRunout:
		d.log.Warn("runout declared", "sending_action", !d.cfg.dryRun)
		d.announce("SFS: Runout detected")
	case logic.EventAutoReset:
		d.log.Info("auto-reset", "sustained", ev.Sustained, "pulses", ev.Pulses)
		d.announce("SFS: auto-reset")
	}

	if d.pub != nil {
		if err := d.pub.Publish(ev); err != nil {
			d.log.Warn("event publish failed", "type", string(ev.Type), "err", err)
		}
	}

	if !ev.IsFault() {
		return
	}
	if d.cfg.dryRun {
		d.announce("SFS: DRY-RUN (pause not sent)")
		return
	}
	if err := d.link.Send(d.cfg.pauseGcode); err != nil {
		d.log.Warn("pause send failed, queued for reconnect", "gcode", d.cfg.pauseGcode, "err", err)
		d.mon.MarkActionPending()
	}
}

// replayPause resends the pause command that could not be delivered while
// the link was down. Dry-run consumes the replay without sending.
func (d *daemon) replayPause() {
	if d.cfg.dryRun {
		return
	}
	if err := d.link.Send(d.cfg.pauseGcode); err != nil {
		d.log.Warn("pause replay failed", "gcode", d.cfg.pauseGcode, "err", err)
		d.mon.MarkActionPending()
		return
	}
	d.log.Info("pause replayed after reconnect", "gcode", d.cfg.pauseGcode)
}

// runLoop drives the time-based behavior until a shutdown signal or console
// quit. The clock and channels are injected so tests control time.
func (d *daemon) runLoop(now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, consoleQuit <-chan struct{}) error {
	start := now()
	d.lastHeartbeat = start
	d.lastPrinterHeartbeat = start
	d.lastMetrics = start
	d.lastConnected = d.link.Connected()

	for {
		select {
		case s := <-sig:
			d.log.Info("received signal, shutting down", "signal", s.String())
			d.publishShutdown(signalName(s), now())
			return nil

		case <-consoleQuit:
			d.log.Info("console quit, shutting down")
			d.publishShutdown("CONSOLE", now())
			return nil

		case <-tick:
			d.step(now())
		}
	}
}

// step is one evaluation pass: replay a queued pause if the link just came
// back, apply time-driven monitor transitions, then refresh the periodic
// surfaces.
func (d *daemon) step(t time.Time) {
	connected := d.link.Connected()
	if connected && !d.lastConnected {
		d.log.Info("serial reconnected", "device", d.cfg.port)
		if d.mon.TakePendingAction() {
			d.replayPause()
		}
	}
	d.lastConnected = connected

	for _, ev := range d.mon.Tick(t) {
		d.deliver(ev)
	}

	d.refreshTracker(t)

	if d.cfg.heartbeat > 0 && t.Sub(d.lastHeartbeat) >= d.cfg.heartbeat {
		d.lastHeartbeat = t
		d.heartbeat(t)
	}
	if d.cfg.printerHeartbeat > 0 && connected && t.Sub(d.lastPrinterHeartbeat) >= d.cfg.printerHeartbeat {
		d.lastPrinterHeartbeat = t
		d.printerHeartbeat(t)
	}
	if d.cfg.metricsFile != "" && t.Sub(d.lastMetrics) >= d.cfg.metricsInterval {
		d.lastMetrics = t
		if err := metrics.WriteTextfile(d.rec.Registry(), d.cfg.metricsFile); err != nil {
			d.log.Warn("metrics write failed", "path", d.cfg.metricsFile, "err", err)
		}
	}
}

// refreshTracker pushes the current monitor state to the HTTP/MQTT/metrics
// consumers.
func (d *daemon) refreshTracker(t time.Time) {
	d.tracker.Update(d.mon.Snapshot(t), d.link.Connected())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	d.rec.Observe(d.tracker.Snapshot())
}

// heartbeat logs the monitor state and mirrors it as an MQTT system event.
func (d *daemon) heartbeat(t time.Time) {
	snap := d.mon.Snapshot(t)
	age := snap.LastPulseAge
	if age < 0 {
		age = 0
	}
	d.log.Info("heartbeat",
		"enabled", snap.Enabled,
		"latched", snap.Latched,
		"reason", string(snap.Reason),
		"connected", d.link.Connected(),
		"armed", snap.Armed,
		"pulses", snap.PulseTotal,
		"last_pulse_age", age,
		"jams", snap.JamCount,
		"runouts", snap.RunoutCount,
		"runout_asserted", snap.RunoutAsserted,
	)

	if d.pub == nil {
		return
	}
	full := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(full, "HEARTBEAT", ""),
	}
	if err := d.pub.PublishSystem(ev); err != nil {
		d.log.Warn("heartbeat publish failed", "err", err)
	}
}

// printerHeartbeat puts a one-line status on the printer console so the
// operator can see the sensor is alive without leaving the machine.
func (d *daemon) printerHeartbeat(t time.Time) {
	snap := d.mon.Snapshot(t)
	d.announce(fmt.Sprintf("SFS: OK enabled=%d latched=%d armed=%d reason=%s pulses=%d runout=%d",
		boolInt(snap.Enabled), boolInt(snap.Latched), boolInt(snap.Armed),
		snap.Reason, snap.PulseTotal, boolInt(snap.RunoutAsserted)))
}

func (d *daemon) publishStartup(t time.Time) {
	if d.pub == nil {
		return
	}
	d.refreshTracker(t)
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := d.pub.PublishSystem(ev); err != nil {
		d.log.Warn("startup publish failed", "err", err)
		return
	}
	d.log.Info("published startup event")
}

func (d *daemon) publishShutdown(reason string, t time.Time) {
	if d.pub == nil {
		return
	}
	d.refreshTracker(t)
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := d.pub.PublishSystem(ev); err != nil {
		d.log.Warn("shutdown publish failed", "err", err)
		return
	}
	d.log.Info("published shutdown event")
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
