package session

import (
	"sync"
	"time"

	"goa.design/agentcore/message"
	"goa.design/agentcore/runner"
)

// RunSnapshot is one completed run's outcome, recorded so a subscriber that
// joins mid-conversation, or a client reconnecting after a disconnect, can
// backfill history without replaying every pubsub event from the start.
// Grounded on runtime/agent/runtime/run_snapshot.go's derive-a-snapshot-from
// -events approach, simplified to record straight from a runner.Result since
// Runner.Run already returns the completed state synchronously instead of
// requiring a snapshot be reconstructed by replaying emitted events.
type RunSnapshot struct {
	RunID         string
	Text          string
	Output        string
	Messages      []message.Message
	StoppedReason runner.StoppedReason
	Err           string
	StartedAt     time.Time
	EndedAt       time.Time
}

// Ledger is an append-only, chronological transcript of a session's
// completed runs, held separately from the live agent.Context message log so
// a run in progress doesn't block readers and so history survives a Clear of
// that live context. Grounded on runtime/agent/transcript.Ledger's
// append-ordered, replay-safe record, narrowed from that file's
// provider-precise part reconstruction (no provider-payload rebuilding
// happens here) down to one RunSnapshot entry per completed turn.
type Ledger struct {
	mu      sync.RWMutex
	entries []RunSnapshot
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger { return &Ledger{} }

// Append records one completed run's snapshot.
func (l *Ledger) Append(s RunSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

// Snapshots returns every recorded run in chronological order. The returned
// slice is a copy; callers may retain or mutate it freely.
func (l *Ledger) Snapshots() []RunSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]RunSnapshot, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns every run recorded after runID, for a subscriber that
// already has history through that run and wants only what it missed. If
// runID is empty or not found, Since returns the full transcript.
func (l *Ledger) Since(runID string) []RunSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if runID != "" {
		for i, e := range l.entries {
			if e.RunID == runID {
				out := make([]RunSnapshot, len(l.entries)-i-1)
				copy(out, l.entries[i+1:])
				return out
			}
		}
	}
	out := make([]RunSnapshot, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports how many runs are recorded.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
