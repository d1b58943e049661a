// Package protocol implements the line grammar spoken over the printer's
// USB serial port: control markers echoed back by the firmware, temperature
// reports, busy markers, and the M118 announcement framing. Parsing is pure
// so the serial layer stays free of filament semantics.
package protocol

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sweeney/filament-sensor/internal/logic"
)

// Control markers ride on M118 echoes, so the firmware prefixes them with
// "// ". Matching is case-insensitive and anchored to the start of the line.
var (
	controlRe = regexp.MustCompile(`(?i)^\s*//\s*sensor:(enable|disable|reset)\b`)
	tempRe    = regexp.MustCompile(`^\s*T:(-?\d+(?:\.\d+)?)/(-?\d+(?:\.\d+)?)\s+B:(-?\d+(?:\.\d+)?)/(-?\d+(?:\.\d+)?)\b`)
	busyRe    = regexp.MustCompile(`(?i)^\s*echo:busy:`)
)

// TempReport is one parsed M105-style temperature line.
type TempReport struct {
	HotendCurrent float64
	HotendTarget  float64
	BedCurrent    float64
	BedTarget     float64
}

// ParseControl extracts a sensor control command from a firmware echo line.
// The second return is false when the line carries no control marker.
func ParseControl(line string) (logic.Command, bool) {
	m := controlRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return logic.Command(strings.ToLower(m[1])), true
}

// ParseTemps extracts a temperature report. Lines that do not match the
// grammar, or whose numeric fields fail to parse, are silently rejected.
func ParseTemps(line string) (TempReport, bool) {
	m := tempRe.FindStringSubmatch(line)
	if m == nil {
		return TempReport{}, false
	}
	var vals [4]float64
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return TempReport{}, false
		}
		vals[i] = v
	}
	return TempReport{
		HotendCurrent: vals[0],
		HotendTarget:  vals[1],
		BedCurrent:    vals[2],
		BedTarget:     vals[3],
	}, true
}

// IsBusy reports whether the line is a firmware busy marker (the printer is
// heating, homing, or otherwise held in a blocking operation).
func IsBusy(line string) bool {
	return busyRe.MatchString(line)
}

// IsTempLine reports whether the line looks like periodic temperature spam,
// whether or not it parses. Used to keep auto-report chatter out of the log.
func IsTempLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "T:")
}

// Announcement wraps text in an M118 A1 command so the printer echoes it to
// all attached hosts with the "// " action prefix.
func Announcement(text string) string {
	return "M118 A1 " + text
}
