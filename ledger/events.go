package ledger

import "time"

// =============================================================================
// CHANGE EVENTS - command -> mutation -> event -> subscribers
// =============================================================================

type EventKind string

const (
	EventCommitted      EventKind = "committed"       // Movements appended (inject, cancel)
	EventProductSaved   EventKind = "product_saved"   // Product created or edited
	EventImported       EventKind = "imported"        // Document replaced by an import
	EventImportRejected EventKind = "import_rejected" // Import failed, nothing changed
	EventReset          EventKind = "reset"           // Document replaced by an empty one
	EventStorageFailed  EventKind = "storage_failed"  // Persisting failed, memory still authoritative
)

// Event describes one state change. Movements holds what was appended by a
// commit; Err is set for failures.
type Event struct {
	Kind      EventKind
	At        time.Time
	Movements []Movement
	Sales     []SaleOrder
	Product   *Product
	Err       error
}

// Subscribe registers fn for every event and returns a function that
// removes it. Subscribers run synchronously, after the ledger lock is
// released, so they may read the ledger.
func (l *Ledger) Subscribe(fn func(Event)) (unsubscribe func()) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Ledger) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	l.subMu.Lock()
	subs := make([]func(Event), 0, len(l.subs))
	for i := 0; i < l.nextSub; i++ {
		if fn, ok := l.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	l.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}
