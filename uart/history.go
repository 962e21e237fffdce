package uart

import "sync"

// History is the bounded ring of command records, oldest first. It backs
// shell-style command recall: Prev and Next move a cursor over past
// commands, and any append snaps the cursor back past the newest entry.
//
// History carries no protocol weight; records are kept and evicted purely
// for presentation.
type History struct {
	mu      sync.Mutex
	max     int
	records []Record
	cursor  int
}

// NewHistory creates a ring holding at most max records; max <= 0 falls
// back to DefaultHistorySize.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &History{max: max}
}

// Append stores rec as the newest record, evicting and returning the
// oldest one when the ring is full.
func (h *History) Append(rec Record) (evicted Record, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) >= h.max {
		evicted, ok = h.records[0], true
		h.records = h.records[1:]
	}
	h.records = append(h.records, rec)
	h.cursor = len(h.records)
	return evicted, ok
}

// Update applies fn to the record with the given sequence number and
// returns the updated snapshot. ok is false when the record was already
// evicted.
func (h *History) Update(seq uint64, fn func(*Record)) (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.records {
		if h.records[i].Seq == seq {
			fn(&h.records[i])
			return h.records[i], true
		}
	}
	return Record{}, false
}

// Records returns a snapshot of the ring, oldest first.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of stored records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Prev moves the cursor one entry back and returns that entry's command
// text. At the oldest entry the cursor stays put, so holding the recall
// key keeps returning the first command. ok is false only when the
// history is empty.
func (h *History) Prev() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return "", false
	}
	if h.cursor > 0 {
		h.cursor--
	}
	return h.records[h.cursor].Command, true
}

// Next moves the cursor one entry forward. Past the newest entry it
// returns ok false, which a terminal renders as a cleared input line.
func (h *History) Next() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor >= len(h.records) {
		return "", false
	}
	h.cursor++
	if h.cursor == len(h.records) {
		return "", false
	}
	return h.records[h.cursor].Command, true
}
