package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/filament-sensor/internal/gpio"
	"github.com/sweeney/filament-sensor/internal/logic"
	"github.com/sweeney/filament-sensor/internal/metrics"
	"github.com/sweeney/filament-sensor/internal/mqtt"
	"github.com/sweeney/filament-sensor/internal/serial"
	"github.com/sweeney/filament-sensor/internal/status"
)

// fakeLink is a scripted printer link. Send fails while disconnected, the
// way the real link does.
type fakeLink struct {
	mu        sync.Mutex
	connected bool
	sent      []string
	tail      []serial.TailLine
	onLine    func(string)
}

func (l *fakeLink) Start(onLine func(line string)) { l.onLine = onLine }

func (l *fakeLink) Shutdown() {}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Send(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return serial.ErrNotConnected
	}
	l.sent = append(l.sent, line)
	return nil
}

func (l *fakeLink) Tail(since time.Time) []serial.TailLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]serial.TailLine(nil), l.tail...)
}

func (l *fakeLink) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *fakeLink) sentLines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sent...)
}

// testSettings is the daemon configuration used by these tests: stock
// detection tuning with the activity heuristic off so pulses arm directly.
func testSettings() settings {
	return settings{
		port:             "/dev/ttyUSB0",
		baud:             115200,
		chip:             gpio.DefaultChip,
		motionPin:        gpio.DefaultMotionPin,
		runoutPin:        gpio.DefaultRunoutPin,
		runoutEnabled:    true,
		runoutActiveLow:  true,
		runoutDebounce:   100 * time.Millisecond,
		jamTimeout:       850 * time.Millisecond,
		armHold:          1250 * time.Millisecond,
		pauseGcode:       "M600",
		resetSustain:     1500 * time.Millisecond,
		resetMinPulses:   25,
		postResetGrace:   600 * time.Millisecond,
		postTriggerGrace: 2 * time.Second,
		armTempThreshold: 170.0,
		activeRecent:     120 * time.Second,
		metricsInterval:  5 * time.Second,
	}
}

// testDaemon wires a daemon onto fakes. The monitor clock starts at start.
func testDaemon(t *testing.T, s settings, start time.Time) (*daemon, *fakeLink, *mqtt.FakePublisher) {
	t.Helper()
	link := &fakeLink{connected: true}
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	d := &daemon{
		cfg:        s,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		mon:        logic.NewMonitor(monitorConfig(s), start),
		link:       link,
		inputs:     gpio.NewFakeInputs(nil, nil),
		pub:        pub,
		mqttStatus: pub,
		tracker:    status.NewTracker(start, statusConfig(s)),
		rec:        metrics.NewRecorder(nil),
	}
	return d, link, pub
}

// fakeClock returns start, start+step, start+2*step, ... on successive
// calls. Only runLoop's goroutine calls it.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// driveLoop runs runLoop in a goroutine, feeds it nTicks ticks, then the
// signal, and returns runLoop's error.
func driveLoop(t *testing.T, d *daemon, clock func() time.Time, nTicks int, sig os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runLoop(clock, tick, sigCh, nil)
	}()
	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sigCh <- sig
	return <-errCh
}

func TestRunLoopJamDeclaredAndPauseSent(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d, link, pub := testDaemon(t, testSettings(), start)

	// One pulse arms detection, then silence. The clock steps 100ms per
	// tick, so the jam declares at +900ms (first tick past the 850ms
	// timeout).
	d.mon.OnPulse(start)

	if err := driveLoop(t, d, fakeClock(start, 100*time.Millisecond), 9, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 1 {
		t.Fatalf("expected 1 fault event, got %d", len(pub.Events))
	}
	ev := pub.Events[0]
	if ev.Type != logic.EventJam {
		t.Errorf("expected JAM, got %s", ev.Type)
	}
	if ev.Reason != logic.ReasonJam {
		t.Errorf("expected reason jam, got %s", ev.Reason)
	}
	if ev.SilentFor != 900*time.Millisecond {
		t.Errorf("expected silent_for 900ms, got %v", ev.SilentFor)
	}

	sent := link.sentLines()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sent lines, got %d: %v", len(sent), sent)
	}
	if sent[0] != "M118 A1 SFS: Jam detected" {
		t.Errorf("unexpected announcement: %q", sent[0])
	}
	if sent[1] != "M600" {
		t.Errorf("expected pause command M600, got %q", sent[1])
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	se := pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN, got %q", se.Event)
	}
	if se.Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", se.Reason)
	}
	if !se.Retained {
		t.Error("expected Retained=true for SHUTDOWN")
	}
	if !bytes.Contains(pub.SystemPayloads[0], []byte(`"latched":true`)) {
		t.Errorf("shutdown payload should carry the latched state: %s", pub.SystemPayloads[0])
	}
}

func TestRunLoopJamDryRun(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := testSettings()
	s.dryRun = true
	d, link, pub := testDaemon(t, s, start)

	d.mon.OnPulse(start)

	if err := driveLoop(t, d, fakeClock(start, 100*time.Millisecond), 9, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 1 || pub.Events[0].Type != logic.EventJam {
		t.Fatalf("expected 1 JAM event, got %v", pub.Events)
	}

	sent := link.sentLines()
	want := []string{
		"M118 A1 SFS: Jam detected",
		"M118 A1 SFS: DRY-RUN (pause not sent)",
	}
	if len(sent) != len(want) {
		t.Fatalf("expected %d sent lines, got %d: %v", len(want), len(sent), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("sent[%d]: got %q, want %q", i, sent[i], want[i])
		}
	}

	if d.mon.Snapshot(start.Add(time.Second)).PendingAction {
		t.Error("dry-run should never queue a pending action")
	}
}

func TestRunLoopPendingReplayOnReconnect(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d, link, pub := testDaemon(t, testSettings(), start)
	link.setConnected(false)

	d.mon.OnPulse(start)

	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runLoop(fakeClock(start, 100*time.Millisecond), tick, sigCh, nil)
	}()

	// Jam declares at +900ms while disconnected; the pause send fails and
	// is queued. The extra tick is a barrier: its send completes only
	// after the jam tick finished processing.
	for i := 0; i < 10; i++ {
		tick <- time.Time{}
	}

	// The link comes back; the next tick replays the pause exactly once.
	link.setConnected(true)
	tick <- time.Time{}

	sigCh <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	sent := link.sentLines()
	if len(sent) != 1 || sent[0] != "M600" {
		t.Fatalf("expected exactly one replayed M600, got %v", sent)
	}

	snap := d.mon.Snapshot(start.Add(2 * time.Second))
	if snap.PendingAction {
		t.Error("pending action should be cleared by the replay")
	}
	if !snap.Latched {
		t.Error("replay must not clear the latch")
	}

	if len(pub.Events) != 1 || pub.Events[0].Type != logic.EventJam {
		t.Errorf("expected the jam event to be published while disconnected, got %v", pub.Events)
	}
}

func TestRunLoopAutoResetClearsJam(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := testSettings()
	s.autoReset = true
	s.resetSustain = 300 * time.Millisecond
	s.resetMinPulses = 3
	d, link, pub := testDaemon(t, s, start)

	d.mon.OnPulse(start)

	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runLoop(fakeClock(start, 100*time.Millisecond), tick, sigCh, nil)
	}()

	// Jam at +900ms. The extra tick is a barrier so the latch is in place
	// before motion resumes.
	for i := 0; i < 10; i++ {
		tick <- time.Time{}
	}
	// Motion resumes: a pulse right before each tick. The candidate opens
	// at +1100ms and satisfies both thresholds at +1400ms.
	for i := 11; i <= 14; i++ {
		d.mon.OnPulse(start.Add(time.Duration(i) * 100 * time.Millisecond))
		tick <- time.Time{}
	}

	sigCh <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 2 {
		t.Fatalf("expected JAM then AUTO_RESET, got %v", pub.Events)
	}
	if pub.Events[0].Type != logic.EventJam {
		t.Errorf("first event: expected JAM, got %s", pub.Events[0].Type)
	}
	ar := pub.Events[1]
	if ar.Type != logic.EventAutoReset {
		t.Errorf("second event: expected AUTO_RESET, got %s", ar.Type)
	}
	if ar.Sustained != 300*time.Millisecond {
		t.Errorf("expected sustained 300ms, got %v", ar.Sustained)
	}
	if ar.Pulses != 3 {
		t.Errorf("expected 3 pulses since candidate, got %d", ar.Pulses)
	}

	if d.mon.Snapshot(start.Add(2 * time.Second)).Latched {
		t.Error("auto-reset should clear the latch")
	}

	found := false
	for _, line := range link.sentLines() {
		if line == "M118 A1 SFS: auto-reset" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected auto-reset announcement, got %v", link.sentLines())
	}
}

func TestRunLoopHeartbeatSystemEvent(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := testSettings()
	s.heartbeat = 300 * time.Millisecond
	d, _, pub := testDaemon(t, s, start)

	if err := driveLoop(t, d, fakeClock(start, 100*time.Millisecond), 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for i, se := range pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if se.Retained {
				t.Error("heartbeats must not be retained")
			}
			if !bytes.Contains(pub.SystemPayloads[i], []byte(`"event":"HEARTBEAT"`)) {
				t.Errorf("heartbeat payload missing event field: %s", pub.SystemPayloads[i])
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT in 4 ticks, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN, got %d", shutdowns)
	}
}

func TestRunLoopPrinterHeartbeat(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := testSettings()
	s.printerHeartbeat = 200 * time.Millisecond
	d, link, _ := testDaemon(t, s, start)

	if err := driveLoop(t, d, fakeClock(start, 100*time.Millisecond), 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	sent := link.sentLines()
	if len(sent) != 1 {
		t.Fatalf("expected 1 printer heartbeat, got %d: %v", len(sent), sent)
	}
	want := "M118 A1 SFS: OK enabled=1 latched=0 armed=0 reason=none pulses=0 runout=0"
	if sent[0] != want {
		t.Errorf("printer heartbeat:\n got %q\nwant %q", sent[0], want)
	}
}

func TestRunLoopPrinterHeartbeatSkippedWhileDisconnected(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := testSettings()
	s.printerHeartbeat = 200 * time.Millisecond
	d, link, _ := testDaemon(t, s, start)
	link.setConnected(false)

	if err := driveLoop(t, d, fakeClock(start, 100*time.Millisecond), 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if sent := link.sentLines(); len(sent) != 0 {
		t.Errorf("expected no printer heartbeats while disconnected, got %v", sent)
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d, _, pub := testDaemon(t, testSettings(), start)

	if err := driveLoop(t, d, fakeClock(start, 100*time.Millisecond), 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	se := pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGINT" || !se.Retained {
		t.Errorf("unexpected shutdown event: %+v", se)
	}
}

func TestRunLoopConsoleQuit(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d, _, pub := testDaemon(t, testSettings(), start)

	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	quitCh := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runLoop(fakeClock(start, 100*time.Millisecond), tick, sigCh, quitCh)
	}()

	close(quitCh)
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	if pub.SystemEvents[0].Reason != "CONSOLE" {
		t.Errorf("expected reason CONSOLE, got %q", pub.SystemEvents[0].Reason)
	}
}

func TestRunLoopWritesMetricsTextfile(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := testSettings()
	s.metricsFile = filepath.Join(t.TempDir(), "sfs.prom")
	s.metricsInterval = 200 * time.Millisecond
	d, _, _ := testDaemon(t, s, start)

	d.mon.OnPulse(start)

	if err := driveLoop(t, d, fakeClock(start, 100*time.Millisecond), 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	data, err := os.ReadFile(s.metricsFile)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	for _, want := range []string{"sfs_pulse_total 1", "sfs_connected 1"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics file missing %q:\n%s", want, data)
		}
	}
}

func TestHandleLineControl(t *testing.T) {
	d, link, _ := testDaemon(t, testSettings(), time.Now())

	d.handleLine("// sensor:disable")
	if d.mon.Snapshot(time.Now()).Enabled {
		t.Error("expected disabled after control marker")
	}

	d.handleLine("//sensor:enable")
	if !d.mon.Snapshot(time.Now()).Enabled {
		t.Error("expected enabled after control marker")
	}

	// Serial-origin controls are not echoed back to the printer.
	if sent := link.sentLines(); len(sent) != 0 {
		t.Errorf("expected no announcements, got %v", sent)
	}
}

func TestHandleLineBusyMarksActive(t *testing.T) {
	s := testSettings()
	s.requireActive = true
	d, _, _ := testDaemon(t, s, time.Now())

	if d.mon.Snapshot(time.Now()).Active {
		t.Fatal("expected inactive before any evidence")
	}
	d.handleLine("echo:busy: processing")
	if !d.mon.Snapshot(time.Now()).Active {
		t.Error("busy marker should count as activity evidence")
	}
}

func TestHandleLineHotTargetMarksActive(t *testing.T) {
	s := testSettings()
	s.requireActive = true
	d, _, _ := testDaemon(t, s, time.Now())

	d.handleLine("T:210.00/215.00 B:60.00/60.00 @:127 B@:0")
	if !d.mon.Snapshot(time.Now()).Active {
		t.Error("printing-heat target should count as activity evidence")
	}
}

func TestHandleLineIdleTempIgnored(t *testing.T) {
	s := testSettings()
	s.requireActive = true
	d, _, _ := testDaemon(t, s, time.Now())

	d.handleLine("T:24.91/0.00 B:23.80/0.00 @:0 B@:0")
	if d.mon.Snapshot(time.Now()).Active {
		t.Error("cold target must not count as activity evidence")
	}
}

func TestHandleLineQuietTemps(t *testing.T) {
	s := testSettings()
	s.requireActive = true
	s.quietTemps = true
	d, _, _ := testDaemon(t, s, time.Now())

	var buf bytes.Buffer
	d.log = slog.New(slog.NewTextHandler(&buf, nil))

	d.handleLine("T:210.00/215.00 B:60.00/60.00")
	if strings.Contains(buf.String(), "msg=printer") {
		t.Error("temperature spam should not be mirrored with -quiet-temps")
	}
	if !d.mon.Snapshot(time.Now()).Active {
		t.Error("suppressed temp lines must still feed the activity heuristic")
	}

	d.handleLine("ok")
	if !strings.Contains(buf.String(), "msg=printer") {
		t.Error("non-temp lines should still be mirrored")
	}
}

func TestDeliverAutoResetAnnouncesWithoutPause(t *testing.T) {
	d, link, pub := testDaemon(t, testSettings(), time.Now())

	d.deliver(logic.Event{
		Timestamp: time.Now(),
		Type:      logic.EventAutoReset,
		Reason:    logic.ReasonNone,
		Sustained: 2 * time.Second,
		Pulses:    40,
	})

	sent := link.sentLines()
	if len(sent) != 1 || sent[0] != "M118 A1 SFS: auto-reset" {
		t.Errorf("expected only the auto-reset announcement, got %v", sent)
	}
	if len(pub.Events) != 1 || pub.Events[0].Type != logic.EventAutoReset {
		t.Errorf("expected the auto-reset to be published, got %v", pub.Events)
	}
}

func TestPulseCallbackCountsAndArms(t *testing.T) {
	d, _, _ := testDaemon(t, testSettings(), time.Now())
	inputs := gpio.NewFakeInputs(d.onPulse, d.onRunoutEdge)
	d.inputs = inputs

	inputs.Pulse(3)

	snap := d.mon.Snapshot(time.Now())
	if snap.PulseTotal != 3 {
		t.Errorf("expected 3 pulses, got %d", snap.PulseTotal)
	}
	if !snap.EverPulsed {
		t.Error("expected pulses to arm detection")
	}
}

// TestRunoutEdgeDebouncedSettle exercises the edge callback end to end: a
// runout edge starts the debounce timer, the settled read still shows no
// filament, and the fault is delivered.
func TestRunoutEdgeDebouncedSettle(t *testing.T) {
	s := testSettings()
	s.runoutDebounce = 20 * time.Millisecond
	d, link, pub := testDaemon(t, s, time.Now())
	inputs := gpio.NewFakeInputs(d.onPulse, d.onRunoutEdge)
	d.inputs = inputs

	inputs.SetAsserted(true)
	inputs.RunoutEdge()

	// The second send (the pause) is the last step of delivery; once it is
	// visible, so is everything before it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(link.sentLines()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}

	sent := link.sentLines()
	want := []string{"M118 A1 SFS: Runout detected", "M600"}
	if len(sent) != 2 || sent[0] != want[0] || sent[1] != want[1] {
		t.Fatalf("sent lines: got %v, want %v", sent, want)
	}
	if len(pub.Events) != 1 || pub.Events[0].Type != logic.EventRunout {
		t.Errorf("expected a published runout, got %v", pub.Events)
	}
	snap := d.mon.Snapshot(time.Now())
	if !snap.Latched || snap.Reason != logic.ReasonRunout {
		t.Errorf("expected latched runout, got latched=%v reason=%s", snap.Latched, snap.Reason)
	}
	if !snap.RunoutAsserted {
		t.Error("expected runout_asserted")
	}
}

// TestRunoutEdgeRecoveredBlip verifies an edge whose settled read shows
// filament again latches nothing and sends nothing.
func TestRunoutEdgeRecoveredBlip(t *testing.T) {
	s := testSettings()
	s.runoutDebounce = 20 * time.Millisecond
	d, link, _ := testDaemon(t, s, time.Now())
	inputs := gpio.NewFakeInputs(d.onPulse, d.onRunoutEdge)
	d.inputs = inputs

	inputs.SetAsserted(false)
	inputs.RunoutEdge()

	time.Sleep(150 * time.Millisecond)

	if snap := d.mon.Snapshot(time.Now()); snap.Latched {
		t.Error("expected no latch from a recovered blip")
	}
	if sent := link.sentLines(); len(sent) != 0 {
		t.Errorf("unexpected sends: %q", sent)
	}
}

// TestRunoutEdgeReadFailureSkipsSettle verifies a failed level read drops the
// check instead of latching on garbage.
func TestRunoutEdgeReadFailureSkipsSettle(t *testing.T) {
	s := testSettings()
	s.runoutDebounce = 20 * time.Millisecond
	d, link, _ := testDaemon(t, s, time.Now())
	inputs := gpio.NewFakeInputs(d.onPulse, d.onRunoutEdge)
	d.inputs = inputs

	inputs.SetReadError(errors.New("chip gone"))
	inputs.RunoutEdge()

	time.Sleep(150 * time.Millisecond)

	if snap := d.mon.Snapshot(time.Now()); snap.Latched {
		t.Error("expected no latch on read failure")
	}
	if sent := link.sentLines(); len(sent) != 0 {
		t.Errorf("unexpected sends: %q", sent)
	}
}

func TestSignalName(t *testing.T) {
	cases := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := signalName(tc.sig); got != tc.want {
			t.Errorf("signalName(%v): got %q, want %q", tc.sig, got, tc.want)
		}
	}
}

func TestMonitorConfigFromSettings(t *testing.T) {
	s := testSettings()
	s.requireActive = true
	s.autoReset = true
	cfg := monitorConfig(s)

	if cfg.JamTimeout != 850*time.Millisecond {
		t.Errorf("JamTimeout: got %v", cfg.JamTimeout)
	}
	if cfg.ArmHold != 1250*time.Millisecond {
		t.Errorf("ArmHold: got %v", cfg.ArmHold)
	}
	if !cfg.RequireActive || !cfg.AutoReset {
		t.Error("expected RequireActive and AutoReset carried through")
	}
	if cfg.ResetMinPulses != 25 {
		t.Errorf("ResetMinPulses: got %d", cfg.ResetMinPulses)
	}
	if cfg.PostTriggerGrace != 2*time.Second {
		t.Errorf("PostTriggerGrace: got %v", cfg.PostTriggerGrace)
	}
}

func TestStatusConfigFromSettings(t *testing.T) {
	s := testSettings()
	s.broker = "tcp://192.168.1.200:1883"
	s.httpAddr = ":8266"
	s.metricsFile = "/var/lib/node_exporter/sfs.prom"
	cfg := statusConfig(s)

	if cfg.Port != "/dev/ttyUSB0" || cfg.Baud != 115200 {
		t.Errorf("port config: got %s @ %d", cfg.Port, cfg.Baud)
	}
	if cfg.JamTimeoutMs != 850 || cfg.ArmHoldMs != 1250 || cfg.RunoutDebounceMs != 100 {
		t.Errorf("durations: got %d/%d/%d ms", cfg.JamTimeoutMs, cfg.ArmHoldMs, cfg.RunoutDebounceMs)
	}
	if cfg.Broker != s.broker || cfg.HTTPAddr != s.httpAddr || cfg.MetricsFile != s.metricsFile {
		t.Error("expected sink addresses carried through")
	}
	if cfg.PauseGcode != "M600" {
		t.Errorf("PauseGcode: got %q", cfg.PauseGcode)
	}
}
