package draft

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/stockflux/factory"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// ITEM STATES
// =============================================================================

// Status is the life-cycle state of a queued draft:
//
//	composing -> ok | warning | blocking -> discarded | committed
type Status string

const (
	StatusComposing Status = "composing"
	StatusOK        Status = "ok"
	StatusWarning   Status = "warning"
	StatusBlocking  Status = "blocking"
	StatusDiscarded Status = "discarded"
	StatusCommitted Status = "committed"
)

var (
	ErrItemNotFound = errors.New("draft item not found")
	ErrEmptyQueue   = errors.New("draft queue is empty")
)

// Item is one queued draft with its last validation result.
type Item struct {
	ID      string        `json:"id"`
	Draft   factory.Draft `json:"-"`
	Status  Status        `json:"status"`
	Report  Report        `json:"report"`
	AddedAt time.Time     `json:"addedAt"`
}

// =============================================================================
// QUEUE - ephemeral, never persisted or exported
// =============================================================================

// Queue is an ordered batch of drafts awaiting injection.
type Queue struct {
	mu    sync.Mutex
	items []Item
	now   func() time.Time
}

func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Add appends a draft in the composing state.
func (q *Queue) Add(d factory.Draft) Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	it := Item{
		ID:      uuid.NewString(),
		Draft:   d,
		Status:  StatusComposing,
		Report:  Report{Issues: []Issue{}},
		AddedAt: q.now(),
	}
	q.items = append(q.items, it)
	return it
}

// Replace swaps the draft of an item; the item goes back to composing.
func (q *Queue) Replace(id string, d factory.Draft) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return Item{}, ErrItemNotFound
	}
	q.items[i].Draft = d
	q.items[i].Status = StatusComposing
	q.items[i].Report = Report{Issues: []Issue{}}
	return q.items[i], nil
}

// Remove discards one item.
func (q *Queue) Remove(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return Item{}, ErrItemNotFound
	}
	it := q.items[i]
	it.Status = StatusDiscarded
	q.items = append(q.items[:i], q.items[i+1:]...)
	return it, nil
}

// Clear discards every item and returns them.
func (q *Queue) Clear() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	for i := range out {
		out[i].Status = StatusDiscarded
	}
	q.items = nil
	return out
}

// Items returns a copy of the queue in order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.items...)
}

func (q *Queue) Get(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return Item{}, ErrItemNotFound
	}
	return q.items[i], nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drafts returns the queued drafts in order.
func (q *Queue) Drafts() []factory.Draft {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]factory.Draft, len(q.items))
	for i, it := range q.items {
		out[i] = it.Draft
	}
	return out
}

// Validate runs batch validation against doc and records each item's state.
func (q *Queue) Validate(doc *ledger.Document) Report {
	q.mu.Lock()
	defer q.mu.Unlock()

	drafts := make([]factory.Draft, len(q.items))
	for i, it := range q.items {
		drafts[i] = it.Draft
	}
	report := ValidateBatch(doc, drafts)
	q.applyLocked(report)
	return report
}

func (q *Queue) applyLocked(report Report) {
	for i := range q.items {
		r := report.ForItem(i)
		q.items[i].Report = r
		q.items[i].Status = r.Status()
	}
}

// commit removes the given items after a successful injection and returns
// them in the committed state.
func (q *Queue) commit(ids []string) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	var committed []Item
	kept := q.items[:0]
	for _, it := range q.items {
		if done[it.ID] {
			it.Status = StatusCommitted
			committed = append(committed, it)
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return committed
}

// mark records a report computed for the given items, if they are still
// queued in the same order.
func (q *Queue) mark(ids []string, report Report) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	for i := range q.items {
		if p, ok := pos[q.items[i].ID]; ok {
			r := report.ForItem(p)
			q.items[i].Report = r
			q.items[i].Status = r.Status()
		}
	}
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}
