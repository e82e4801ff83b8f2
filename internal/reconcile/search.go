package reconcile

import (
	"sort"

	"github.com/emersion/go-imap/v2"
)

// toUIDSet compacts a list of UIDs into an imap.UIDSet, collapsing
// contiguous runs into lo:hi ranges as spec.md §4.3 requires for
// large sets.
func toUIDSet(uids []imap.UID) imap.UIDSet {
	sorted := append([]imap.UID(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var set imap.UIDSet
	i := 0
	for i < len(sorted) {
		start := sorted[i]
		end := start
		j := i + 1
		for j < len(sorted) && sorted[j] == end+1 {
			end = sorted[j]
			j++
		}
		if start == end {
			set.AddNum(start)
		} else {
			set.AddRange(start, end)
		}
		i = j
	}
	return set
}

// batchUIDs splits uids into chunks of at most size, preserving
// order, for the bounded-batch fetch pipeline (spec.md §4.4).
func batchUIDs(uids []imap.UID, size int) [][]imap.UID {
	var out [][]imap.UID
	for len(uids) > 0 {
		n := size
		if n > len(uids) {
			n = len(uids)
		}
		out = append(out, uids[:n])
		uids = uids[n:]
	}
	return out
}

// partitionKnown splits candidates into those already known locally
// (by UID) and those that are not, per spec.md §4.4's C_new/C_upd
// split.
func partitionKnown(candidates []imap.UID, known map[imap.UID]bool) (newUIDs, updatedUIDs []imap.UID) {
	for _, uid := range candidates {
		if known[uid] {
			updatedUIDs = append(updatedUIDs, uid)
		} else {
			newUIDs = append(newUIDs, uid)
		}
	}
	return
}
