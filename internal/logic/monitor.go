package logic

import (
	"sync"
	"time"
)

// Monitor tracks filament motion and runout state and decides when to latch
// a fault. It is the single mutual-exclusion boundary of the daemon: GPIO
// callbacks, the serial reader, settle timers, and the tick loop all mutate
// state through it. Methods return events as values so callers perform I/O
// after the lock is released.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	enabled bool
	latched bool
	reason  Reason

	pulseTotal uint64
	lastPulse  time.Time
	armedUntil time.Time
	everPulsed bool

	lastActiveEvidence time.Time

	runoutAsserted bool
	lastRunoutEdge time.Time

	// resetCandidateSince is zero when no auto-reset candidate is open.
	resetCandidateSince  time.Time
	resetStartPulseTotal uint64

	graceUntil            time.Time
	postTriggerGraceUntil time.Time

	jamCount    uint64
	runoutCount uint64

	// pendingAction is set when a fault's pause command could not be
	// delivered and must be replayed on the next reconnect.
	pendingAction bool

	startTime time.Time
}

// NewMonitor creates a monitor that starts enabled and unlatched. The
// startTime seeds the last-pulse timestamp so the silence clock has a
// defined origin before the first pulse.
func NewMonitor(cfg Config, startTime time.Time) *Monitor {
	return &Monitor{
		cfg:       cfg,
		enabled:   true,
		reason:    ReasonNone,
		lastPulse: startTime,
		startTime: startTime,
	}
}

// active reports whether the printer has shown recent activity evidence.
// Callers must hold mu.
func (m *Monitor) active(now time.Time) bool {
	if !m.cfg.RequireActive {
		return true
	}
	if m.lastActiveEvidence.IsZero() {
		return false
	}
	return now.Sub(m.lastActiveEvidence) <= m.cfg.ActiveRecent
}

// OnPulse records one motion pulse. Every pulse counts toward the total and
// resets the silence clock; only pulses while the printer is considered
// active arm detection (and feed an open auto-reset candidate). Idle pulses
// instead cancel any candidate and re-baseline its pulse count.
func (m *Monitor) OnPulse(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pulseTotal++
	m.lastPulse = now
	if !m.active(now) {
		m.resetCandidateSince = time.Time{}
		m.resetStartPulseTotal = m.pulseTotal
		return
	}

	m.armedUntil = now.Add(m.cfg.ArmHold)
	m.everPulsed = true

	if m.latched && m.cfg.AutoReset && m.reason == ReasonJam && m.resetCandidateSince.IsZero() {
		m.resetCandidateSince = now
		m.resetStartPulseTotal = m.pulseTotal
	}
}

// OnRunoutEdge records a raw runout edge and returns the timestamp token the
// caller must pass to SettleRunout after the debounce window. A newer edge
// invalidates every older token.
func (m *Monitor) OnRunoutEdge(now time.Time) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRunoutEdge = now
	return now
}

// SettleRunout completes a debounced runout check. The token is the value
// returned by the matching OnRunoutEdge call; if another edge arrived in the
// meantime the check is stale and ignored. The asserted level is the live,
// polarity-normalized pin state read just before the call (true = filament
// absent). Returns a runout event if the settled assertion latched a fault.
func (m *Monitor) SettleRunout(token time.Time, asserted bool, now time.Time) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !token.Equal(m.lastRunoutEdge) {
		return nil
	}

	m.runoutAsserted = asserted
	if !asserted || !m.enabled {
		return nil
	}
	return m.trigger(ReasonRunout, now)
}

// RecordEvidence marks the printer as actively printing as of now. Evidence
// comes from temperature reports at printing heat and from firmware busy
// lines.
func (m *Monitor) RecordEvidence(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastActiveEvidence = now
}

// trigger latches a fault. It is idempotent: a second fault while latched is
// ignored and the original reason survives. Callers must hold mu.
func (m *Monitor) trigger(reason Reason, now time.Time) *Event {
	if m.latched {
		return nil
	}

	m.latched = true
	m.reason = reason
	switch reason {
	case ReasonJam:
		m.jamCount++
	case ReasonRunout:
		m.runoutCount++
	}
	m.postTriggerGraceUntil = now.Add(m.cfg.PostTriggerGrace)
	m.pendingAction = false

	ev := &Event{
		Timestamp: now,
		Reason:    reason,
	}
	if reason == ReasonJam {
		ev.Type = EventJam
		ev.SilentFor = now.Sub(m.lastPulse)
	} else {
		ev.Type = EventRunout
	}
	return ev
}

// clearLatch unlatches the monitor and discards everything tied to the old
// latch: reason, pending delivery, any auto-reset candidate, and both grace
// windows. The last-pulse timestamp is re-seeded so a jam is not immediately
// re-declared. Callers must hold mu.
func (m *Monitor) clearLatch(now time.Time) {
	m.latched = false
	m.reason = ReasonNone
	m.pendingAction = false
	m.resetCandidateSince = time.Time{}
	m.graceUntil = time.Time{}
	m.postTriggerGraceUntil = time.Time{}
	m.lastPulse = now
}

// HandleControl applies an operator command. Enable also clears an existing
// latch; disable only stops detection, leaving a latched fault visible until
// an enable or reset clears it.
func (m *Monitor) HandleControl(cmd Command, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd {
	case CommandEnable:
		m.enabled = true
		m.clearLatch(now)
	case CommandDisable:
		m.enabled = false
	case CommandReset:
		m.clearLatch(now)
	}
}

// Tick evaluates the time-driven transitions at now: the auto-reset
// candidate first, then jam declaration. Returns the events to act on, in
// order. Disabled monitors make no transitions at all.
func (m *Monitor) Tick(now time.Time) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return nil
	}

	var events []Event

	if m.latched && m.cfg.AutoReset && m.reason == ReasonJam && !m.resetCandidateSince.IsZero() {
		if !now.After(m.armedUntil) {
			sustained := now.Sub(m.resetCandidateSince)
			pulses := m.pulseTotal - m.resetStartPulseTotal
			if sustained >= m.cfg.ResetSustain && pulses >= m.cfg.ResetMinPulses {
				m.latched = false
				m.reason = ReasonNone
				m.pendingAction = false
				m.resetCandidateSince = time.Time{}
				m.graceUntil = now.Add(m.cfg.PostResetGrace)
				events = append(events, Event{
					Timestamp: now,
					Type:      EventAutoReset,
					Reason:    ReasonNone,
					Sustained: sustained,
					Pulses:    pulses,
				})
				return events
			}
		} else {
			// Arming lapsed mid-candidacy; start over on the next pulse.
			m.resetCandidateSince = time.Time{}
			m.resetStartPulseTotal = m.pulseTotal
		}
	}

	if m.latched {
		return events
	}
	if now.Before(m.graceUntil) || now.Before(m.postTriggerGraceUntil) {
		return events
	}

	if m.everPulsed && !now.After(m.armedUntil) {
		if silent := now.Sub(m.lastPulse); silent > m.cfg.JamTimeout {
			if ev := m.trigger(ReasonJam, now); ev != nil {
				events = append(events, *ev)
			}
		}
	}
	return events
}

// MarkActionPending records that the latched fault's pause command was not
// delivered and must be replayed on the next reconnect. A no-op when the
// latch has already cleared.
func (m *Monitor) MarkActionPending() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.latched {
		m.pendingAction = true
	}
}

// TakePendingAction atomically claims a pending replay. It returns true at
// most once per recorded failure; the caller resends the pause command and
// calls MarkActionPending again if that resend also fails.
func (m *Monitor) TakePendingAction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pendingAction || !m.latched {
		m.pendingAction = false
		return false
	}
	m.pendingAction = false
	return true
}

// Snapshot returns a copy of the observable state evaluated at now.
func (m *Monitor) Snapshot(now time.Time) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Enabled:        m.enabled,
		Latched:        m.latched,
		Reason:         m.reason,
		Armed:          m.everPulsed && !m.latched && !now.After(m.armedUntil),
		Active:         m.active(now),
		EverPulsed:     m.everPulsed,
		PulseTotal:     m.pulseTotal,
		LastPulseAge:   now.Sub(m.lastPulse),
		RunoutAsserted: m.runoutAsserted,
		JamCount:       m.jamCount,
		RunoutCount:    m.runoutCount,
		PendingAction:  m.pendingAction,
		StartTime:      m.startTime,
		Now:            now,
	}
}
