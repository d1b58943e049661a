// Command filament-sensor watches a BTT SFS v2.0 filament sensor on a
// Raspberry Pi and pauses the printer over USB serial when filament stops
// moving or runs out.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sweeney/filament-sensor/internal/gpio"
	"github.com/sweeney/filament-sensor/internal/logic"
	"github.com/sweeney/filament-sensor/internal/web"
)

// Overridden at release time via -ldflags.
var (
	version   = "0.11.0"
	buildDate = "2026-08-25"
)

// settings carries every parsed flag into the selected mode.
type settings struct {
	port string
	baud int

	chip            string
	motionPin       int
	runoutPin       int
	runoutEnabled   bool
	runoutActiveLow bool
	runoutDebounce  time.Duration

	jamTimeout time.Duration
	armHold    time.Duration

	pauseGcode string
	dryRun     bool

	autoReset        bool
	resetSustain     time.Duration
	resetMinPulses   uint64
	postResetGrace   time.Duration
	postTriggerGrace time.Duration

	requireActive    bool
	armTempThreshold float64
	activeRecent     time.Duration

	quietTemps bool

	heartbeat        time.Duration
	printerHeartbeat time.Duration

	dtr bool
	rts bool

	logJSON    bool
	logFile    string
	logMaxSize int
	logBackups int

	metricsFile     string
	metricsInterval time.Duration

	broker   string
	httpAddr string

	console   bool
	doctorFor time.Duration
	jsonOut   bool
}

func main() {
	var s settings
	def := logic.DefaultConfig()

	flag.StringVar(&s.port, "port", "", "printer serial device (e.g. /dev/ttyUSB0)")
	flag.IntVar(&s.baud, "baud", 115200, "serial baud rate")

	flag.StringVar(&s.chip, "gpio-chip", gpio.DefaultChip, "GPIO character device name")
	flag.IntVar(&s.motionPin, "motion-gpio", gpio.DefaultMotionPin, "BCM pin wired to the motion encoder output")
	flag.IntVar(&s.runoutPin, "runout-gpio", gpio.DefaultRunoutPin, "BCM pin wired to the runout switch output")
	flag.BoolVar(&s.runoutEnabled, "runout", true, "watch the runout switch")
	flag.BoolVar(&s.runoutActiveLow, "runout-active-low", true, "runout switch pulls the line low when filament is out")
	flag.DurationVar(&s.runoutDebounce, "runout-debounce", 100*time.Millisecond, "settle window after a runout edge")

	flag.DurationVar(&s.jamTimeout, "timeout", def.JamTimeout, "armed silence that declares a jam")
	flag.DurationVar(&s.armHold, "arm-hold", def.ArmHold, "how long a pulse keeps jam detection armed")

	flag.StringVar(&s.pauseGcode, "pause-gcode", "M600", "command sent to the printer on a fault")
	flag.BoolVar(&s.dryRun, "dry-run", false, "announce faults but never send the pause command")

	flag.BoolVar(&s.autoReset, "auto-reset", def.AutoReset, "clear a jam latch on its own when motion resumes")
	flag.DurationVar(&s.resetSustain, "reset-sustain", def.ResetSustain, "sustained motion required before auto-reset")
	flag.Uint64Var(&s.resetMinPulses, "reset-min-pulses", def.ResetMinPulses, "pulses required before auto-reset")
	flag.DurationVar(&s.postResetGrace, "post-reset-grace", def.PostResetGrace, "jam-detection hold-off after an auto-reset")
	flag.DurationVar(&s.postTriggerGrace, "post-trigger-grace", def.PostTriggerGrace, "jam-detection hold-off after any trigger")

	flag.BoolVar(&s.requireActive, "require-active", def.RequireActive, "only arm while the printer shows recent activity")
	flag.Float64Var(&s.armTempThreshold, "arm-temp-threshold", 170.0, "hotend target temperature that counts as printing activity")
	flag.DurationVar(&s.activeRecent, "active-recent", def.ActiveRecent, "how fresh activity evidence must be")

	flag.BoolVar(&s.quietTemps, "quiet-temps", false, "do not mirror temperature report lines into the log")

	flag.DurationVar(&s.heartbeat, "heartbeat", 30*time.Second, "local heartbeat log interval (0 to disable)")
	flag.DurationVar(&s.printerHeartbeat, "printer-heartbeat", 0, "status line interval on the printer console (0 to disable)")

	flag.BoolVar(&s.dtr, "dtr", false, "assert DTR on serial open (many boards reset when toggled)")
	flag.BoolVar(&s.rts, "rts", false, "assert RTS on serial open")

	flag.BoolVar(&s.logJSON, "log-json", false, "log in JSON instead of text")
	flag.StringVar(&s.logFile, "log-file", "", "also log to this file with size rotation")
	flag.IntVar(&s.logMaxSize, "log-max-size", 5, "rotate the log file after this many megabytes")
	flag.IntVar(&s.logBackups, "log-backups", 5, "rotated log files to keep")

	flag.StringVar(&s.metricsFile, "metrics-file", "", "write a Prometheus textfile snapshot here (empty to disable)")
	flag.DurationVar(&s.metricsInterval, "metrics-interval", 5*time.Second, "metrics snapshot interval")

	flag.StringVar(&s.broker, "broker", "", "MQTT broker address, e.g. tcp://192.168.1.200:1883 (empty to disable)")
	flag.StringVar(&s.httpAddr, "http", "", "HTTP status address, e.g. :8266 (empty to disable)")

	flag.BoolVar(&s.console, "console", false, "read enable|disable|reset|status|quit commands from stdin")
	doctor := flag.Bool("doctor", false, "run a wiring self-check and exit")
	flag.DurationVar(&s.doctorFor, "doctor-seconds", 8*time.Second, "how long the doctor watches the sensor")
	statusMode := flag.Bool("status", false, "print a status snapshot and exit")
	flag.BoolVar(&s.jsonOut, "json", false, "with -status, also print the JSON snapshot")
	showVersion := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("filament-sensor %s (%s)\n", version, buildDate)
		return
	}
	if s.port == "" {
		fmt.Fprintln(os.Stderr, "missing required -port (printer serial device)")
		flag.Usage()
		os.Exit(2)
	}

	log := setupLogger(s)

	var err error
	switch {
	case *doctor:
		err = runDoctor(s, log)
	case *statusMode:
		err = runStatus(s, log)
	default:
		err = run(s, log)
	}
	if err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// setupLogger builds the process logger: text or JSON on stdout, optionally
// teed into a size-rotated file.
func setupLogger(s settings) *slog.Logger {
	var w io.Writer = os.Stdout
	if s.logFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   s.logFile,
			MaxSize:    s.logMaxSize,
			MaxBackups: s.logBackups,
		})
	}
	if s.logJSON {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func run(s settings, log *slog.Logger) error {
	d, err := newDaemon(s, log)
	if err != nil {
		return err
	}
	defer d.close()

	d.link.Start(d.handleLine)

	d.publishStartup(time.Now())

	if s.httpAddr != "" {
		promHandler := promhttp.HandlerFor(d.rec.Registry(), promhttp.HandlerOpts{})
		srv := web.New(s.httpAddr, d.tracker, promHandler)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", "addr", s.httpAddr)
	}

	log.Info("started",
		"version", version,
		"port", s.port,
		"baud", s.baud,
		"timeout", s.jamTimeout,
		"arm_hold", s.armHold,
		"pause_gcode", s.pauseGcode,
		"dry_run", s.dryRun,
		"auto_reset", s.autoReset,
		"runout", s.runoutEnabled,
		"broker", s.broker,
		"http", s.httpAddr,
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var consoleQuit <-chan struct{}
	if s.console {
		consoleQuit = d.startConsole(os.Stdin, os.Stdout)
	}

	return d.runLoop(time.Now, ticker.C, sigCh, consoleQuit)
}
