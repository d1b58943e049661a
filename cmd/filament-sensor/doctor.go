package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sweeney/filament-sensor/internal/gpio"
	"github.com/sweeney/filament-sensor/internal/protocol"
	"github.com/sweeney/filament-sensor/internal/serial"
	"github.com/sweeney/filament-sensor/internal/status"
)

const (
	doctorConnectWait = 5 * time.Second
	doctorEchoWait    = 3 * time.Second
	statusConnectWait = 1500 * time.Millisecond
)

// runDoctor is a wiring self-check: verify the printer echoes an M118
// marker back, then watch the motion line and runout level for a while.
// Returns an error (non-zero exit) when no motion pulses were seen.
func runDoctor(s settings, log *slog.Logger) error {
	var pulses atomic.Uint64
	var runoutEdges atomic.Uint64

	inputs, err := gpio.NewRealInputs(gpio.Config{
		Chip:            s.chip,
		MotionPin:       s.motionPin,
		RunoutPin:       s.runoutPin,
		RunoutEnabled:   s.runoutEnabled,
		RunoutActiveLow: s.runoutActiveLow,
	}, func() { pulses.Add(1) }, func() { runoutEdges.Add(1) })
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer inputs.Close()

	link := serial.NewLink(s.port, portDialer(s), log)
	link.Start(func(string) {})
	defer link.Shutdown()

	fmt.Println("Filament Sensor Doctor")
	fmt.Println("----------------------")

	deadline := time.Now().Add(doctorConnectWait)
	for !link.Connected() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	if link.Connected() {
		fmt.Printf("Serial         : connected (%s @ %d)\n", s.port, s.baud)
		marker := fmt.Sprintf("SFS_SELFTEST_%d", time.Now().Unix())
		sentAt := time.Now()
		if err := link.Send(protocol.Announcement(marker)); err != nil {
			fmt.Printf("Echo check     : FAILED (send: %v)\n", err)
		} else if latency, ok := awaitEcho(link, marker, sentAt, doctorEchoWait); ok {
			fmt.Printf("Echo check     : OK (marker echoed in %v)\n", latency.Round(time.Millisecond))
		} else {
			fmt.Printf("Echo check     : FAILED (no echo within %v; check M118 support)\n", doctorEchoWait)
		}
	} else {
		fmt.Printf("Serial         : NOT CONNECTED (%s @ %d)\n", s.port, s.baud)
		fmt.Println("Echo check     : skipped")
	}

	fmt.Printf("Watching motion GPIO %d for %v... feed filament now.\n", s.motionPin, s.doctorFor)
	pulses.Store(0)
	runoutEdges.Store(0)
	time.Sleep(s.doctorFor)

	count := pulses.Load()
	rate := float64(count) / s.doctorFor.Seconds()
	fmt.Printf("Motion pulses  : %d (%.1f/s)\n", count, rate)

	if s.runoutEnabled {
		asserted, err := inputs.RunoutAsserted()
		switch {
		case err != nil:
			fmt.Printf("Runout level   : read failed (%v)\n", err)
		case asserted:
			fmt.Printf("Runout level   : NO FILAMENT (%d edges seen)\n", runoutEdges.Load())
		default:
			fmt.Printf("Runout level   : filament present (%d edges seen)\n", runoutEdges.Load())
		}
	} else {
		fmt.Println("Runout level   : switch disabled")
	}

	if count == 0 {
		fmt.Println("Verdict        : FAILED")
		return errors.New("doctor: no motion pulses seen (check wiring and feed filament during the watch window)")
	}
	fmt.Println("Verdict        : OK")
	return nil
}

// awaitEcho polls the receive tail for the marker until the wait elapses.
func awaitEcho(link printerLink, marker string, since time.Time, wait time.Duration) (time.Duration, bool) {
	deadline := since.Add(wait)
	for time.Now().Before(deadline) {
		if echoSeen(link.Tail(since), marker) {
			return time.Since(since), true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return 0, false
}

// echoSeen scans received lines for the marker text. The firmware prefixes
// M118 echoes, so a substring match is required rather than equality.
func echoSeen(lines []serial.TailLine, marker string) bool {
	for _, l := range lines {
		if strings.Contains(l.Text, marker) {
			return true
		}
	}
	return false
}

// runStatus attempts a quick serial connect, then prints a one-shot status
// snapshot and exits.
func runStatus(s settings, log *slog.Logger) error {
	// One-shot mode never serves HTTP, publishes, or writes metrics.
	s.broker = ""
	s.httpAddr = ""
	s.metricsFile = ""
	s.console = false

	d, err := newDaemon(s, log)
	if err != nil {
		return err
	}
	defer d.close()

	d.link.Start(d.handleLine)

	deadline := time.Now().Add(statusConnectWait)
	for !d.link.Connected() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	d.refreshTracker(time.Now())
	snap := d.tracker.Snapshot()
	printStatus(os.Stdout, snap)
	if s.jsonOut {
		os.Stdout.Write(status.FormatJSON(snap))
		fmt.Println()
	}
	return nil
}

func printStatus(w io.Writer, snap status.Snapshot) {
	m := snap.Monitor
	age := m.LastPulseAge
	if age < 0 {
		age = 0
	}
	fmt.Fprintln(w, "Filament Sensor Status")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "Version           : %s (%s)\n", version, buildDate)
	fmt.Fprintf(w, "Enabled           : %v\n", m.Enabled)
	fmt.Fprintf(w, "Latched           : %v\n", m.Latched)
	fmt.Fprintf(w, "Trigger reason    : %s\n", m.Reason)
	fmt.Fprintf(w, "Serial connected  : %v\n", snap.SerialConnected)
	fmt.Fprintf(w, "Armed             : %v\n", m.Armed)
	fmt.Fprintf(w, "Pulse total       : %d\n", m.PulseTotal)
	fmt.Fprintf(w, "Last pulse age    : %.2fs\n", age.Seconds())
	fmt.Fprintf(w, "Runout asserted   : %v\n", m.RunoutAsserted)
	fmt.Fprintf(w, "Jam count         : %d\n", m.JamCount)
	fmt.Fprintf(w, "Runout count      : %d\n", m.RunoutCount)
}
