package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stockflux/ledger"
	"github.com/warp/stockflux/store/postgres"
)

func TestStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("STOCKFLUX_PG_DSN")
	if dsn == "" {
		t.Skip("STOCKFLUX_PG_DSN not set")
	}
	ctx := context.Background()

	s, err := postgres.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key := "stockflux/test/" + t.Name()
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// GIVEN: A ledger persisted in PostgreSQL
	l := ledger.Open(ctx, s, ledger.Options{Key: key})
	_, err = l.CreateProduct(ctx, ledger.Product{ID: "P1", Name: "Walnut board"})
	require.NoError(t, err)

	// THEN: A fresh ledger on the same key loads it
	reopened := ledger.Open(ctx, s, ledger.Options{Key: key})
	assert.Len(t, reopened.Products(), 1)
}
