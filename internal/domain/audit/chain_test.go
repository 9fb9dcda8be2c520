package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

func newTestRecord(t *testing.T, rollNo string, removed int) *Record {
	t.Helper()

	ids := make([]string, removed)
	for i := range ids {
		ids[i] = "evt-" + string(rune('a'+i))
	}
	rec, err := NewRemovalRecord(NewRemovalParams{
		PerformedBy:     "admin@college.edu",
		TargetRollNo:    shared.RollNo(rollNo),
		TargetName:      "Test Student",
		RemovedDates:    []string{"2026-02-01"},
		RemovedEventIDs: ids,
		Before:          Snapshot{LateDays: 5, Fines: 9, Status: "grace_period"},
		After:           Snapshot{LateDays: 5 - removed, Fines: 6, Status: "approaching_limit"},
		Reason:          "medical certificate submitted",
		AuthorizedBy:    "hod.cse@college.edu",
		Request:         RequestMeta{IPAddress: "10.0.0.7", UserAgent: "ledgerctl"},
		At:              time.Date(2026, 2, 2, 10, 0, 0, 123456789, time.UTC),
	})
	require.NoError(t, err)
	return rec
}

func buildChain(t *testing.T, n int) []*Record {
	t.Helper()
	var prev *Record
	out := make([]*Record, 0, n)
	for i := 0; i < n; i++ {
		rec := newTestRecord(t, "22B81A0501", 1)
		rec.Seal(prev)
		out = append(out, rec)
		prev = rec
	}
	return out
}

func TestNewRemovalRecord(t *testing.T) {
	rec := newTestRecord(t, "22B81A0501", 1)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, rec.RecordsRemoved)
	assert.Equal(t, 3, rec.FineReduction())
	assert.Equal(t, 123456000, rec.Timestamp.Nanosecond())
	assert.False(t, rec.IsSealed())
}

func TestNewRemovalRecord_ZeroMatchesStillValid(t *testing.T) {
	rec, err := NewRemovalRecord(NewRemovalParams{
		TargetRollNo: "22B81A0501",
		Reason:       "cleanup of duplicate marks",
		AuthorizedBy: "principal",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, rec.RecordsRemoved)
	assert.Equal(t, []string{}, rec.RemovedEventIDs)
	assert.Equal(t, "principal", rec.PerformedBy)
}

func TestNewRemovalRecord_RequiresAuthorizer(t *testing.T) {
	_, err := NewRemovalRecord(NewRemovalParams{
		TargetRollNo: "22B81A0501",
		Reason:       "cleanup of duplicate marks",
	})
	assert.True(t, errors.Is(err, shared.ErrMissingAuthorizer))
}

func TestSealAndVerifyChain(t *testing.T) {
	chain := buildChain(t, 4)

	assert.Equal(t, int64(1), chain[0].Sequence)
	assert.Equal(t, GenesisHash, chain[0].PrevHash)
	assert.Equal(t, chain[2].Hash, chain[3].PrevHash)
	assert.Len(t, chain[3].Hash, 64)

	require.NoError(t, VerifyChain(nil, chain))
	require.NoError(t, VerifyChain(chain[1], chain[2:]))
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	chain := buildChain(t, 3)
	chain[1].Reason = "changed after the fact"

	err := VerifyChain(nil, chain)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAuditChainBroken))
	assert.Contains(t, err.Error(), "record 2")
}

func TestVerifyChain_DetectsGap(t *testing.T) {
	chain := buildChain(t, 3)

	err := VerifyChain(nil, []*Record{chain[0], chain[2]})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2, found 3")
}

func TestVerifyChain_DetectsRelink(t *testing.T) {
	chain := buildChain(t, 3)
	chain[2].PrevHash = chain[0].Hash
	chain[2].Hash = chain[2].ComputeHash()

	err := VerifyChain(nil, chain)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not link")
}
