package audit

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"

	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// GenesisHash is the PrevHash of the first record in the chain.
const GenesisHash = ""

// canonicalRecord fixes field order and timestamp encoding for hashing.
// Hash itself is excluded.
type canonicalRecord struct {
	ID              string   `json:"id"`
	Sequence        int64    `json:"sequence"`
	Timestamp       string   `json:"timestamp"`
	PerformedBy     string   `json:"performed_by"`
	TargetRollNo    string   `json:"target_roll_no"`
	TargetName      string   `json:"target_name"`
	RecordsRemoved  int      `json:"records_removed"`
	RemovedDates    []string `json:"removed_dates"`
	RemovedEventIDs []string `json:"removed_event_ids"`
	Before          Snapshot `json:"before"`
	After           Snapshot `json:"after"`
	Reason          string   `json:"reason"`
	AuthorizedBy    string   `json:"authorized_by"`
	IPAddress       string   `json:"ip_address"`
	UserAgent       string   `json:"user_agent"`
	PrevHash        string   `json:"prev_hash"`
}

// ComputeHash returns the hex blake2b-256 digest of the record's canonical
// form, PrevHash included.
func (r *Record) ComputeHash() string {
	c := canonicalRecord{
		ID:              r.ID,
		Sequence:        r.Sequence,
		Timestamp:       r.Timestamp.UTC().Format(timeutil.FormatTimestamp),
		PerformedBy:     r.PerformedBy,
		TargetRollNo:    r.TargetRollNo,
		TargetName:      r.TargetName,
		RecordsRemoved:  r.RecordsRemoved,
		RemovedDates:    nonNil(r.RemovedDates),
		RemovedEventIDs: nonNil(r.RemovedEventIDs),
		Before:          r.Before,
		After:           r.After,
		Reason:          r.Reason,
		AuthorizedBy:    r.AuthorizedBy,
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		PrevHash:        r.PrevHash,
	}
	// Marshal of a struct of strings, ints and string slices cannot fail.
	data, _ := json.Marshal(c)
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal places the record after prev in the chain. prev is nil for the
// first record.
func (r *Record) Seal(prev *Record) {
	if prev == nil {
		r.Sequence = 1
		r.PrevHash = GenesisHash
	} else {
		r.Sequence = prev.Sequence + 1
		r.PrevHash = prev.Hash
	}
	r.Hash = r.ComputeHash()
}

// VerifyChain checks a contiguous run of records ordered by Sequence.
// prev is the record immediately before records[0], or nil when the run
// starts at the head of the chain. The first broken sequence is reported
// through ErrAuditChainBroken.
func VerifyChain(prev *Record, records []*Record) error {
	for _, rec := range records {
		wantSeq, wantPrev := int64(1), GenesisHash
		if prev != nil {
			wantSeq, wantPrev = prev.Sequence+1, prev.Hash
		}

		switch {
		case rec.Sequence != wantSeq:
			return shared.Detail(shared.ErrAuditChainBroken,
				"sequence gap: expected %d, found %d", wantSeq, rec.Sequence)
		case rec.PrevHash != wantPrev:
			return shared.Detail(shared.ErrAuditChainBroken,
				"record %d does not link to its predecessor", rec.Sequence)
		case rec.Hash != rec.ComputeHash():
			return shared.Detail(shared.ErrAuditChainBroken,
				"record %d content does not match its hash", rec.Sequence)
		}
		prev = rec
	}
	return nil
}
