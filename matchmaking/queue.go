// Package matchmaking holds the waiting list of connections looking for
// an opponent. Entries are connection ids in arrival order; the earliest
// eligible waiter always wins a pairing.
package matchmaking

// Queue is a FIFO waiting list. It is not safe for concurrent use on its
// own; the match service serializes all access.
type Queue struct {
	entries []string
}

func NewQueue() *Queue {
	return &Queue{entries: make([]string, 0)}
}

// Push appends connID and returns its 1-indexed position. A connection
// already present is left in place and its current position returned.
func (q *Queue) Push(connID string) int {
	if pos, ok := q.Position(connID); ok {
		return pos
	}
	q.entries = append(q.entries, connID)
	return len(q.entries)
}

// Position returns the 1-indexed position of connID, if present.
func (q *Queue) Position(connID string) (int, bool) {
	for i, id := range q.entries {
		if id == connID {
			return i + 1, true
		}
	}
	return 0, false
}

// Remove deletes connID's entry if present. Idempotent.
func (q *Queue) Remove(connID string) bool {
	for i, id := range q.entries {
		if id == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// PopEligible removes and returns the earliest waiter that is not self
// and is still live. Entries that are no longer live are pruned along
// the way so stale ids cannot linger ahead of real waiters.
func (q *Queue) PopEligible(self string, live func(string) bool) (string, bool) {
	kept := q.entries[:0]
	var (
		found  string
		gotOne bool
	)
	for _, id := range q.entries {
		switch {
		case gotOne:
			kept = append(kept, id)
		case id == self:
			kept = append(kept, id)
		case !live(id):
			// stale entry, drop it
		default:
			found = id
			gotOne = true
		}
	}
	q.entries = kept
	return found, gotOne
}

func (q *Queue) Len() int {
	return len(q.entries)
}
