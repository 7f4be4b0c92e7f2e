/*
ledger.go - The ledger store: one document, append-only journal

PURPOSE:
  Ledger owns the Document and is the only way to change it. Every
  mutation runs as a transaction on a deep copy: if anything fails the
  copy is dropped and the ledger is exactly as before.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: committed movements never change and never disappear.
     A transaction that touches existing movements is rejected.
  2. ALL-OR-NOTHING: a batch, an import or a product edit is applied
     completely or not at all.
  3. MEMORY IS AUTHORITATIVE: if persisting fails the error is logged and
     announced (EventStorageFailed); the session keeps working and the next
     successful save catches up.

LIFECYCLE:
  Open -> Load (missing/corrupt/foreign blob = empty ledger)
       -> WithTx / CreateProduct / Cancel / Import / Reset
       -> each mutation persists the whole document with one Put
       -> subscribers are notified

IMPORT GUARD:
  Import reads its input before touching the ledger. While it does, commits
  fail with ErrImportInProgress so nothing is written against a document
  that is about to be replaced.

SEE ALSO:
  - document.go: The persisted shape
  - cancel.go: Cancellation through counter-entries
  - events.go: Change notification
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultExportPrefix starts every export filename.
const DefaultExportPrefix = "stock-flux-"

// Options configures a Ledger. Zero values pick sensible defaults.
type Options struct {
	Key          string
	ExportPrefix string
	Logger       *zap.Logger
	Now          func() time.Time
	Location     *time.Location // local calendar for "today" and export names
}

// Ledger is the single source of truth for one store instance.
type Ledger struct {
	storage      Storage
	key          string
	exportPrefix string
	log          *zap.Logger
	now          func() time.Time
	loc          *time.Location

	mu        sync.RWMutex
	doc       *Document
	importing atomic.Bool

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// Open creates a ledger on top of storage and loads its document.
func Open(ctx context.Context, storage Storage, opts Options) *Ledger {
	l := &Ledger{
		storage:      storage,
		key:          opts.Key,
		exportPrefix: opts.ExportPrefix,
		log:          opts.Logger,
		now:          opts.Now,
		loc:          opts.Location,
		subs:         make(map[int]func(Event)),
	}
	if l.key == "" {
		l.key = DefaultStorageKey
	}
	if l.exportPrefix == "" {
		l.exportPrefix = DefaultExportPrefix
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.loc == nil {
		l.loc = time.Local
	}
	l.Load(ctx)
	return l
}

// Today is the current local calendar day.
func (l *Ledger) Today() Date {
	return DateOf(l.now().In(l.loc))
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load replaces the in-memory document with the persisted one. It never
// fails: anything unreadable is treated as an empty ledger.
func (l *Ledger) Load(ctx context.Context) {
	doc := l.readStored(ctx)

	l.mu.Lock()
	l.doc = doc
	l.mu.Unlock()
}

func (l *Ledger) readStored(ctx context.Context) *Document {
	raw, err := l.storage.Get(ctx, l.key)
	if errors.Is(err, ErrNotFound) {
		l.log.Info("no stored ledger, starting empty", zap.String("key", l.key))
		return NewDocument(l.now().UTC())
	}
	if err != nil {
		l.log.Warn("reading stored ledger failed, starting empty", zap.String("key", l.key), zap.Error(err))
		return NewDocument(l.now().UTC())
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		l.log.Warn("stored ledger unusable, starting empty", zap.String("key", l.key), zap.Error(err))
		return NewDocument(l.now().UTC())
	}
	l.log.Info("ledger loaded",
		zap.Int("products", len(doc.Products)),
		zap.Int("movements", len(doc.Movements)),
		zap.Int("sales", len(doc.Sales)),
	)
	return doc
}

// Save stamps UpdatedAt and writes the document with a single Put.
func (l *Ledger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(ctx)
}

func (l *Ledger) saveLocked(ctx context.Context) error {
	l.doc.UpdatedAt = l.now().UTC()
	raw, err := json.Marshal(l.doc)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := l.storage.Put(ctx, l.key, raw); err != nil {
		return fmt.Errorf("failed to store ledger: %w", err)
	}
	return nil
}

// persistLocked saves and converts a failure into a log line and an event.
func (l *Ledger) persistLocked(ctx context.Context) []Event {
	if err := l.saveLocked(ctx); err != nil {
		l.log.Error("persisting ledger failed, keeping in-memory state", zap.Error(err))
		return []Event{{Kind: EventStorageFailed, At: l.now(), Err: err}}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx applies fn to a copy of the document. If fn succeeds and only
// appended to the journal, the copy becomes the ledger and is persisted.
func (l *Ledger) WithTx(ctx context.Context, fn func(doc *Document) error) error {
	return l.commit(ctx, Event{Kind: EventCommitted}, fn)
}

// commit runs fn on a copy and, on success, announces ev completed with
// what was appended.
func (l *Ledger) commit(ctx context.Context, ev Event, fn func(doc *Document) error) error {
	l.mu.Lock()
	if l.importing.Load() {
		l.mu.Unlock()
		return ErrImportInProgress
	}
	work := l.doc.Clone()
	if err := fn(work); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := appendOnly(l.doc, work); err != nil {
		l.mu.Unlock()
		return err
	}

	ev.At = l.now()
	ev.Movements = cloneMovements(work.Movements[len(l.doc.Movements):])
	ev.Sales = append([]SaleOrder{}, work.Sales[len(l.doc.Sales):]...)
	l.doc = work
	failures := l.persistLocked(ctx)
	l.mu.Unlock()

	l.emit(append([]Event{ev}, failures...)...)
	return nil
}

// appendOnly rejects any change to existing movements or sale orders.
func appendOnly(before, after *Document) error {
	if len(after.Movements) < len(before.Movements) || len(after.Sales) < len(before.Sales) {
		return ErrHistoryRewritten
	}
	for i := range before.Movements {
		if !reflect.DeepEqual(before.Movements[i], after.Movements[i]) {
			return fmt.Errorf("%w: %s", ErrHistoryRewritten, before.Movements[i].MID)
		}
	}
	for i := range before.Sales {
		if !reflect.DeepEqual(before.Sales[i], after.Sales[i]) {
			return fmt.Errorf("%w: %s", ErrHistoryRewritten, before.Sales[i].SID)
		}
	}
	if after.NextMID < before.NextMID || after.NextSID < before.NextSID {
		return fmt.Errorf("%w: counters moved backwards", ErrHistoryRewritten)
	}
	for _, m := range after.Movements[len(before.Movements):] {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

// CreateProduct adds a new product. Ids are unique.
func (l *Ledger) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p = p.clone()
	if err := p.validate(); err != nil {
		return Product{}, err
	}
	if p.Descriptions == nil {
		p.Descriptions = []string{}
	}
	err := l.commit(ctx, Event{Kind: EventProductSaved, Product: &p}, func(doc *Document) error {
		if _, exists := doc.Product(p.ID); exists {
			return fmt.Errorf("%w: %s", ErrProductExists, p.ID)
		}
		doc.PutProduct(p)
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// UpdateProduct replaces an existing product's name, default lot size and
// descriptions.
func (l *Ledger) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	p = p.clone()
	if err := p.validate(); err != nil {
		return Product{}, err
	}
	if p.Descriptions == nil {
		p.Descriptions = []string{}
	}
	err := l.commit(ctx, Event{Kind: EventProductSaved, Product: &p}, func(doc *Document) error {
		if _, exists := doc.Product(p.ID); !exists {
			return fmt.Errorf("%w: %s", ErrProductNotFound, p.ID)
		}
		doc.PutProduct(p)
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// =============================================================================
// READS - always copies
// =============================================================================

// Snapshot returns a deep copy of the whole document.
func (l *Ledger) Snapshot() *Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.doc.Clone()
}

func (l *Ledger) Products() []Product {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Product, len(l.doc.Products))
	for i, p := range l.doc.Products {
		out[i] = p.clone()
	}
	return out
}

func (l *Ledger) Product(id ProductID) (Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.doc.Product(id)
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p.clone(), nil
}

func (l *Ledger) Movements() []Movement {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneMovements(l.doc.Movements)
}

func (l *Ledger) Movement(mid MovementID) (Movement, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.doc.Movement(mid)
	if !ok {
		return Movement{}, fmt.Errorf("%w: %s", ErrMovementNotFound, mid)
	}
	return m.clone(), nil
}

func (l *Ledger) Sales() []SaleOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]SaleOrder, len(l.doc.Sales))
	for i, s := range l.doc.Sales {
		out[i] = s.clone()
	}
	return out
}

func (l *Ledger) Sale(sid SaleID) (SaleOrder, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.doc.Sale(sid)
	if !ok {
		return SaleOrder{}, fmt.Errorf("%w: %s", ErrSaleNotFound, sid)
	}
	return s.clone(), nil
}

func cloneMovements(ms []Movement) []Movement {
	out := make([]Movement, len(ms))
	for i, m := range ms {
		out[i] = m.clone()
	}
	return out
}

// =============================================================================
// EXPORT / IMPORT / RESET
// =============================================================================

// Artifact is a downloadable export.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportFilename is prefix + local date + ".json". Same-day exports share a
// name on purpose.
func ExportFilename(prefix string, day Date) string {
	return prefix + day.String() + ".json"
}

// Export serialises the whole document. The ledger is not modified.
func (l *Ledger) Export() (Artifact, error) {
	l.mu.RLock()
	raw, err := json.MarshalIndent(l.doc, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to encode export: %w", err)
	}
	return Artifact{
		Filename:    ExportFilename(l.exportPrefix, l.Today()),
		ContentType: "application/json",
		Data:        raw,
	}, nil
}

// Import replaces the ledger with the document read from r. Validation is
// all-or-nothing: on any *ImportError the current ledger is untouched.
func (l *Ledger) Import(ctx context.Context, r io.Reader) error {
	// The guard is raised under mu so a commit either finishes before the
	// import starts or sees the flag.
	l.mu.Lock()
	started := l.importing.CompareAndSwap(false, true)
	l.mu.Unlock()
	if !started {
		return ErrImportInProgress
	}
	defer l.importing.Store(false)

	raw, err := io.ReadAll(r)
	if err != nil {
		return l.rejectImport(&ImportError{Reason: "reading input failed", Err: err})
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return l.rejectImport(err)
	}

	l.mu.Lock()
	l.doc = doc
	failures := l.persistLocked(ctx)
	l.mu.Unlock()

	l.log.Info("ledger imported",
		zap.Int("products", len(doc.Products)),
		zap.Int("movements", len(doc.Movements)),
	)
	l.emit(append([]Event{{Kind: EventImported, At: l.now()}}, failures...)...)
	return nil
}

func (l *Ledger) rejectImport(err error) error {
	l.log.Warn("import rejected", zap.Error(err))
	l.emit(Event{Kind: EventImportRejected, At: l.now(), Err: err})
	return err
}

// Reset replaces the ledger with an empty document.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	if l.importing.Load() {
		l.mu.Unlock()
		return ErrImportInProgress
	}
	l.doc = NewDocument(l.now().UTC())
	failures := l.persistLocked(ctx)
	l.mu.Unlock()

	l.emit(append([]Event{{Kind: EventReset, At: l.now()}}, failures...)...)
	return nil
}
