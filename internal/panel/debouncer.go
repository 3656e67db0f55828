package panel

import "time"

// Default polling and settle periods.
const (
	DefaultPollInterval = 300 * time.Millisecond
	DefaultSettleWindow = 700 * time.Millisecond
)

// DebounceState is the state of a Debouncer.
type DebounceState int

const (
	// StateIdle means the observed values equal the committed snapshot.
	StateIdle DebounceState = iota
	// StatePending means a different snapshot is waiting to settle.
	StatePending
)

func (s DebounceState) String() string {
	if s == StatePending {
		return "pending"
	}
	return "idle"
}

// Debouncer commits a new snapshot once it has been observed unchanged for
// the settle window. It is not safe for concurrent use; Runtime guards it.
type Debouncer struct {
	settle time.Duration

	committed    Snapshot
	committedSig string

	candidate    Snapshot
	candidateSig string
	since        time.Time

	state DebounceState
}

// NewDebouncer starts idle with initial as the committed snapshot.
func NewDebouncer(initial Snapshot, settle time.Duration) *Debouncer {
	initial = initial.Clone()
	return &Debouncer{
		settle:       settle,
		committed:    initial,
		committedSig: initial.Signature(),
	}
}

// Observe feeds one poll sample. It returns the new committed snapshot and
// true exactly when snap has been observed, unchanged and different from
// the committed one, for at least the settle window.
func (d *Debouncer) Observe(now time.Time, snap Snapshot) (Snapshot, bool) {
	sig := snap.Signature()

	if sig == d.committedSig {
		d.clearCandidate()
		return nil, false
	}

	if d.candidate == nil || sig != d.candidateSig {
		d.candidate = snap.Clone()
		d.candidateSig = sig
		d.since = now
		d.state = StatePending
		return nil, false
	}

	if now.Sub(d.since) < d.settle {
		return nil, false
	}

	d.committed = d.candidate
	d.committedSig = d.candidateSig
	d.clearCandidate()
	return d.committed.Clone(), true
}

func (d *Debouncer) clearCandidate() {
	d.candidate = nil
	d.candidateSig = ""
	d.since = time.Time{}
	d.state = StateIdle
}

// State returns the current state.
func (d *Debouncer) State() DebounceState { return d.state }

// Committed returns a copy of the last committed snapshot.
func (d *Debouncer) Committed() Snapshot { return d.committed.Clone() }
