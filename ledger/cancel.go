/*
cancel.go - Counter-entry cancellation

PURPOSE:
  A committed movement is never edited or removed. To undo one, a CANCEL
  movement referencing it is appended. Every figure filters on the
  annulled set, so the effect disappears everywhere at once while the
  original stays visible in history.

RULES:
  - The target must exist.
  - CANCEL entries themselves cannot be cancelled.
  - A movement is cancelled at most once; a second attempt is rejected
    with ErrAlreadyCancelled rather than appending a duplicate.
  - The CANCEL is dated today, not on the original movement's date.
*/
package ledger

import (
	"context"
	"fmt"
)

// Cancel appends a CANCEL for mid and returns it.
func (l *Ledger) Cancel(ctx context.Context, mid MovementID, note string) (Movement, error) {
	today := l.Today()

	var created Movement
	err := l.WithTx(ctx, func(doc *Document) error {
		target, ok := doc.Movement(mid)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMovementNotFound, mid)
		}
		if err := checkCancellable(doc, target); err != nil {
			return err
		}
		created = newCancel(doc, target.MID, today, note)
		doc.Append(created)
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	return created, nil
}

// CancelSale cancels every still-effective line of a sale order in one
// transaction.
func (l *Ledger) CancelSale(ctx context.Context, sid SaleID, note string) ([]Movement, error) {
	today := l.Today()

	var created []Movement
	err := l.WithTx(ctx, func(doc *Document) error {
		if _, ok := doc.Sale(sid); !ok {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, sid)
		}
		v := NewValuation(doc.Movements)
		var targets []MovementID
		for _, m := range doc.Movements {
			if m.Type == MovementSale && m.Sale.SID == sid && !v.IsAnnulled(m.MID) {
				targets = append(targets, m.MID)
			}
		}
		if len(targets) == 0 {
			return fmt.Errorf("%w: every line of %s", ErrAlreadyCancelled, sid)
		}
		for _, mid := range targets {
			c := newCancel(doc, mid, today, note)
			doc.Append(c)
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func checkCancellable(doc *Document, target Movement) error {
	if target.Type == MovementCancel {
		return fmt.Errorf("%w: %s", ErrCancelNotCancellable, target.MID)
	}
	if _, annulled := AnnulledSet(doc.Movements)[target.MID]; annulled {
		return fmt.Errorf("%w: %s", ErrAlreadyCancelled, target.MID)
	}
	return nil
}

func newCancel(doc *Document, ref MovementID, day Date, note string) Movement {
	return Movement{
		MID:    doc.AllocateMID(),
		Date:   day,
		Type:   MovementCancel,
		Note:   note,
		Tags:   []string{},
		Cancel: &CancelDetail{RefMID: ref},
	}
}
