package cart

import (
	"sort"
	"time"
)

// Merge reconciles one client's edits into the stored cart using
// last-writer-wins per line. Removal tombstones win ties: a line whose
// UpdatedAt is <= the tombstone's RemovedAt stays deleted. The merge is
// commutative and idempotent over line content; Version still increments
// on every application. Callers must run it inside a transaction on the
// stored cart document.
func Merge(current Cart, incoming []Line, removals []Key, now time.Time) Cart {
	nowMillis := now.UnixMilli()

	lines := make(map[Key]Line, len(current.Items))
	for _, line := range current.Items {
		lines[line.Key()] = line
	}

	// Tombstone order is insertion/update order; an updated tombstone
	// moves to the tail so the cap drops the oldest entries.
	stones := make(map[Key]int64, len(current.Tombstones))
	order := make([]Key, 0, len(current.Tombstones)+len(removals))
	for _, ts := range current.Tombstones {
		if _, ok := stones[ts.Key]; !ok {
			order = append(order, ts.Key)
		}
		stones[ts.Key] = ts.RemovedAt
	}

	for _, key := range removals {
		existing, ok := stones[key]
		if ok && existing >= nowMillis {
			continue // never move a tombstone backward in time
		}
		if ok {
			order = removeKey(order, key)
		}
		stones[key] = nowMillis
		order = append(order, key)
	}

	for _, line := range incoming {
		key := line.Key()
		if removedAt, ok := stones[key]; ok && removedAt >= line.UpdatedAt {
			continue
		}
		existing, ok := lines[key]
		if !ok || line.UpdatedAt > existing.UpdatedAt {
			lines[key] = line
		}
	}

	// Sweep survivors: a tombstone recorded at or after a line's last
	// update suppresses it even if the line predates this merge.
	for key, line := range lines {
		if removedAt, ok := stones[key]; ok && removedAt >= line.UpdatedAt {
			delete(lines, key)
		}
	}

	if len(order) > MaxTombstones {
		dropped := order[:len(order)-MaxTombstones]
		for _, key := range dropped {
			delete(stones, key)
		}
		order = order[len(order)-MaxTombstones:]
	}

	merged := current
	merged.Items = sortedLines(lines)
	merged.Tombstones = make([]Tombstone, 0, len(order))
	for _, key := range order {
		merged.Tombstones = append(merged.Tombstones, Tombstone{Key: key, RemovedAt: stones[key]})
	}
	merged.Version = current.Version + 1
	merged.Recoverable = len(merged.Items) > 0
	merged.UpdatedAt = now
	merged.LastActivityAt = now
	return merged
}

func removeKey(order []Key, key Key) []Key {
	for i, k := range order {
		if k == key {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func sortedLines(lines map[Key]Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].VariantID < out[j].VariantID
	})
	return out
}
