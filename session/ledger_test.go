package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/agentcore/session"
)

func TestLedgerAppendAndSnapshots(t *testing.T) {
	l := session.NewLedger()
	assert.Zero(t, l.Len())

	l.Append(session.RunSnapshot{RunID: "r1", Text: "hello"})
	l.Append(session.RunSnapshot{RunID: "r2", Text: "world"})

	snaps := l.Snapshots()
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"r1", "r2"}, []string{snaps[0].RunID, snaps[1].RunID})
}

func TestLedgerSnapshotsReturnsACopy(t *testing.T) {
	l := session.NewLedger()
	l.Append(session.RunSnapshot{RunID: "r1"})

	snaps := l.Snapshots()
	snaps[0].RunID = "mutated"

	assert.Equal(t, "r1", l.Snapshots()[0].RunID)
}

func TestLedgerSinceReturnsEntriesAfterRunID(t *testing.T) {
	l := session.NewLedger()
	l.Append(session.RunSnapshot{RunID: "r1"})
	l.Append(session.RunSnapshot{RunID: "r2"})
	l.Append(session.RunSnapshot{RunID: "r3"})

	assert.Equal(t, []string{"r2", "r3"}, runIDs(l.Since("r1")))
	assert.Empty(t, l.Since("r3"))
	assert.Equal(t, []string{"r1", "r2", "r3"}, runIDs(l.Since("")))
	assert.Equal(t, []string{"r1", "r2", "r3"}, runIDs(l.Since("unknown")))
}

func runIDs(snaps []session.RunSnapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.RunID
	}
	return out
}
