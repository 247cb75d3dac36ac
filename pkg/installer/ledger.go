package installer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a single installation attempt or a dependency's final
// result.
type Outcome string

const (
	// OutcomeSucceeded means the dependency ended up installed.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed means all attempts were exhausted without success.
	// Failure is non-fatal for the install loop but blocks later stages
	// that declare the dependency as a hard requirement.
	OutcomeFailed Outcome = "failed"

	// OutcomeRetrying marks an intermediate failed attempt that will be
	// retried.
	OutcomeRetrying Outcome = "retrying"

	// OutcomeSkipped means the spec was disabled.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeClientOnly means the spec is external and only the thin
	// client was installed locally.
	OutcomeClientOnly Outcome = "client-only"
)

// Entry is one attempted operation in the ledger.
type Entry struct {
	ID         string
	Dependency string
	Attempt    int
	Outcome    Outcome
	Detail     string
	Elapsed    time.Duration
	RecordedAt time.Time
}

// Ledger is the append-only, in-memory record of every installation attempt
// in one run. It is surfaced verbatim in the final diagnostic report and
// never persisted beyond the run.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records an entry. Entries are never mutated or removed.
func (l *Ledger) Append(dependency string, attempt int, outcome Outcome, detail string, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		ID:         uuid.New().String(),
		Dependency: dependency,
		Attempt:    attempt,
		Outcome:    outcome,
		Detail:     detail,
		Elapsed:    elapsed,
		RecordedAt: time.Now(),
	})
}

// Entries returns a copy of all recorded entries in order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// FinalOutcome returns the last terminal outcome recorded for a dependency,
// or "" when the dependency never reached a terminal state.
func (l *Ledger) FinalOutcome(dependency string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Dependency != dependency || e.Outcome == OutcomeRetrying {
			continue
		}
		return e.Outcome
	}
	return ""
}

// Failed reports whether a dependency's final outcome is failure.
func (l *Ledger) Failed(dependency string) bool {
	return l.FinalOutcome(dependency) == OutcomeFailed
}

// Counts returns the number of dependencies whose final outcome is
// succeeded (including client-only) and failed, respectively.
func (l *Ledger) Counts() (succeeded, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	final := make(map[string]Outcome)
	for _, e := range l.entries {
		if e.Outcome == OutcomeRetrying || e.Outcome == OutcomeSkipped {
			continue
		}
		final[e.Dependency] = e.Outcome
	}
	for _, o := range final {
		switch o {
		case OutcomeSucceeded, OutcomeClientOnly:
			succeeded++
		case OutcomeFailed:
			failed++
		}
	}
	return succeeded, failed
}

// Render formats the ledger as a human-readable table for diagnostics.
func (l *Ledger) Render() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return "no installation attempts recorded"
	}

	var b strings.Builder
	b.WriteString("DEPENDENCY           ATTEMPT  OUTCOME      ELAPSED    DETAIL\n")
	for _, e := range l.entries {
		detail := e.Detail
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-8d %-12s %-10s %s\n",
			e.Dependency, e.Attempt, e.Outcome, e.Elapsed.Round(time.Millisecond), detail)
	}
	return b.String()
}
