package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sweeney/filament-sensor/internal/logic"
)

// startConsole reads operator commands from r until EOF or quit. Control
// commands go through the same path as serial markers and are echoed to the
// printer console so the change is visible at the machine. The returned
// channel closes when the operator quits.
func (d *daemon) startConsole(r io.Reader, w io.Writer) <-chan struct{} {
	quit := make(chan struct{})
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.ToLower(strings.TrimSpace(sc.Text()))
			switch line {
			case "":

			case "enable", "disable", "reset":
				d.applyControl(logic.Command(line), time.Now())
				d.announce("sensor:" + line)

			case "status":
				snap := d.mon.Snapshot(time.Now())
				age := snap.LastPulseAge
				if age < 0 {
					age = 0
				}
				fmt.Fprintf(w, "enabled=%v latched=%v reason=%s armed=%v pulses=%d last_pulse_age=%.2fs runout=%v jams=%d runouts=%d\n",
					snap.Enabled, snap.Latched, snap.Reason, snap.Armed,
					snap.PulseTotal, age.Seconds(), snap.RunoutAsserted,
					snap.JamCount, snap.RunoutCount)

			case "quit", "exit":
				close(quit)
				return

			default:
				fmt.Fprintf(w, "unknown command %q (enable|disable|reset|status|quit)\n", line)
			}
		}
	}()
	return quit
}
