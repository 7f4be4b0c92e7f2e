package dashboard

import (
	"slices"
	"sort"
	"strings"

	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// HISTORY - journal table
// =============================================================================

// RowStatus says how a journal row counts toward figures.
type RowStatus string

const (
	StatusEffective    RowStatus = "effective"
	StatusCancelled    RowStatus = "cancelled"
	StatusCancellation RowStatus = "cancellation"
)

// Row is one movement as shown in history.
type Row struct {
	Movement    ledger.Movement   `json:"movement"`
	Status      RowStatus         `json:"status"`
	CancelledBy ledger.MovementID `json:"cancelledBy,omitempty"`
}

// Filter narrows the history. Zero fields match everything.
type Filter struct {
	Types     []ledger.MovementType
	ProductID ledger.ProductID
	SaleID    ledger.SaleID
	Tag       string
	Range     ledger.Range
	Search    string // case-insensitive match on the note
}

func (f Filter) match(m ledger.Movement) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, m.Type) {
		return false
	}
	if f.ProductID != "" && m.ProductID() != f.ProductID {
		return false
	}
	if f.SaleID != "" && (m.Sale == nil || m.Sale.SID != f.SaleID) {
		return false
	}
	if f.Tag != "" && !slices.Contains(m.Tags, f.Tag) {
		return false
	}
	if !f.Range.Contains(m.Date) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(m.Note), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// History lists matching movements newest first. Movements sharing a day
// are ordered by id, highest first.
func History(doc *ledger.Document, f Filter) ([]Row, error) {
	if err := f.Range.Validate(); err != nil {
		return nil, err
	}

	cancelledBy := make(map[ledger.MovementID]ledger.MovementID)
	for _, m := range doc.Movements {
		if m.Type == ledger.MovementCancel {
			cancelledBy[m.Cancel.RefMID] = m.MID
		}
	}

	rows := []Row{}
	for _, m := range doc.Movements {
		if !f.match(m) {
			continue
		}
		row := Row{Movement: m, Status: StatusEffective}
		switch by, ok := cancelledBy[m.MID]; {
		case m.Type == ledger.MovementCancel:
			row.Status = StatusCancellation
		case ok:
			row.Status = StatusCancelled
			row.CancelledBy = by
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Movement, rows[j].Movement
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.MID.Seq() > b.MID.Seq()
	})
	return rows, nil
}
