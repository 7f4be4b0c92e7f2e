package draft

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/stockflux/factory"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// INJECTION - validated batch -> one ledger transaction
// =============================================================================

// Injector commits queued drafts into a ledger.
type Injector struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewInjector(l *ledger.Ledger, log *zap.Logger) *Injector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Injector{ledger: l, log: log}
}

// InjectResult is what a successful injection appended.
type InjectResult struct {
	Movements []ledger.Movement  `json:"movements"`
	Sales     []ledger.SaleOrder `json:"sales"`
	Committed []Item             `json:"committed"`
	Report    Report             `json:"report"`
}

// Inject re-validates the whole queue inside a ledger transaction. Any
// blocking issue aborts with a *BlockedError and nothing is appended;
// otherwise every draft is built and appended at once and the queue is
// emptied of the committed items.
func (in *Injector) Inject(ctx context.Context, q *Queue) (InjectResult, error) {
	items := q.Items()
	if len(items) == 0 {
		return InjectResult{}, ErrEmptyQueue
	}
	ids := make([]string, len(items))
	drafts := make([]factory.Draft, len(items))
	for i, it := range items {
		ids[i] = it.ID
		drafts[i] = it.Draft
	}

	var (
		report Report
		built  factory.Result
	)
	err := in.ledger.WithTx(ctx, func(doc *ledger.Document) error {
		report = ValidateBatch(doc, drafts)
		if report.Blocking() {
			return &BlockedError{Report: report}
		}
		res, err := factory.Build(doc, drafts, factory.Options{})
		if err != nil {
			return err
		}
		built = res
		return nil
	})
	if err != nil {
		if IsBlocked(err) {
			q.mark(ids, report)
			in.log.Info("injection blocked", zap.Int("drafts", len(drafts)), zap.Error(err))
		}
		return InjectResult{}, err
	}

	committed := q.commit(ids)
	in.log.Info("drafts injected",
		zap.Int("drafts", len(drafts)),
		zap.Int("movements", len(built.Movements)),
		zap.Int("sales", len(built.Sales)),
		zap.Int("warnings", len(report.Warnings())),
	)
	return InjectResult{
		Movements: built.Movements,
		Sales:     built.Sales,
		Committed: committed,
		Report:    report,
	}, nil
}
