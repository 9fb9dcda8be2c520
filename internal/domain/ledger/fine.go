package ledger

import "fmt"

// ══════════════════════════════════════════════════════════════════════════════
// FINE SCHEDULE
// The only place fine amounts are defined. Every caller (append, removal,
// listings, reconciliation) goes through FineForOrdinal.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// ExcuseDays is the number of late events per ledger that carry no fine.
	ExcuseDays = 2

	// CycleWidth is the number of consecutive post-excuse events sharing a fine.
	CycleWidth = 3
)

// baseFines holds the fine for cycles 0..3.
var baseFines = [...]int{3, 5, 8, 13}

// cycleIncrements is added once per cycle from cycle 4 onwards, indexed by
// (cycle-4) mod 8.
var cycleIncrements = [...]int{5, 8, 5, 13, 8, 5, 18, 13}

// FineForOrdinal returns the fine owed by the n-th late event (1-indexed,
// chronological). It depends on n alone.
//
// n must be positive; anything else is a programming error and panics.
func FineForOrdinal(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("ledger: fine ordinal must be positive, got %d", n))
	}
	if n <= ExcuseDays {
		return 0
	}

	cycle := CycleOf(n)
	if cycle < len(baseFines) {
		return baseFines[cycle]
	}

	fine := baseFines[len(baseFines)-1]
	for i := len(baseFines); i <= cycle; i++ {
		fine += cycleIncrements[(i-len(baseFines))%len(cycleIncrements)]
	}
	return fine
}

// CycleOf returns the 0-indexed fine cycle of ordinal n, or -1 for excused ordinals.
func CycleOf(n int) int {
	if n <= ExcuseDays {
		return -1
	}
	d := n - ExcuseDays
	return (d - 1) / CycleWidth
}

// FineSchedule returns the fines for ordinals 1..count.
func FineSchedule(count int) []int {
	if count <= 0 {
		return nil
	}
	fines := make([]int, count)
	for i := range fines {
		fines[i] = FineForOrdinal(i + 1)
	}
	return fines
}

// fineReason describes a fine-bearing ordinal for the fine history.
func fineReason(n int) string {
	return fmt.Sprintf("Late day #%d - day %d after excuse period (cycle %d)",
		n, n-ExcuseDays, CycleOf(n)+1)
}
