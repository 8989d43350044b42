package index_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-escrow/gateway/index"
	"marketplace-escrow/model"
)

func key(b byte) model.PublicKey {
	var k model.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

func newIndex(t *testing.T) *index.SqliteIndex {
	t.Helper()
	idx, err := index.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func account(addr, seller byte, name string, listed bool, listedAt int64) *model.ItemAccount {
	return &model.ItemAccount{
		Address:  key(addr),
		Lamports: 3_354_720,
		Item: model.Item{
			Seller:      key(seller),
			Price:       1_000_000,
			Listed:      listed,
			Name:        name,
			Description: "desc",
			Bump:        254,
			ListedAt:    listedAt,
		},
	}
}

func TestUpsertAndGetItem(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)

	acct := account(1, 10, "Test Item", true, 100)
	require.NoError(t, idx.UpsertItem(ctx, acct))

	got, err := idx.Item(ctx, key(1))
	require.NoError(t, err)
	assert.Equal(t, acct, got)

	// 購入後の状態で上書き
	acct.Seller = key(11)
	acct.Listed = false
	require.NoError(t, idx.UpsertItem(ctx, acct))
	got, err = idx.Item(ctx, key(1))
	require.NoError(t, err)
	assert.Equal(t, key(11), got.Seller)
	assert.False(t, got.Listed)

	require.NoError(t, idx.DeleteItem(ctx, key(1)))
	_, err = idx.Item(ctx, key(1))
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestItemsFilter(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	require.NoError(t, idx.UpsertItem(ctx, account(1, 10, "a", true, 100)))
	require.NoError(t, idx.UpsertItem(ctx, account(2, 10, "b", false, 200)))
	require.NoError(t, idx.UpsertItem(ctx, account(3, 20, "c", true, 300)))

	all, err := idx.Items(ctx, model.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// 新しい順
	assert.Equal(t, "c", all[0].Name)
	assert.Equal(t, "a", all[2].Name)

	seller := key(10)
	bySeller, err := idx.Items(ctx, model.ItemFilter{Seller: &seller})
	require.NoError(t, err)
	assert.Len(t, bySeller, 2)

	listed := true
	onSale, err := idx.Items(ctx, model.ItemFilter{Listed: &listed})
	require.NoError(t, err)
	require.Len(t, onSale, 2)
	for _, it := range onSale {
		assert.True(t, it.Listed)
	}

	page, err := idx.Items(ctx, model.ItemFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Name)
}

func TestIndexesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := newIndex(t)
	b := newIndex(t)
	require.NoError(t, a.UpsertItem(ctx, account(1, 10, "a", true, 1)))

	items, err := b.Items(ctx, model.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestActivity(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	now := time.Now().UTC().Truncate(time.Second)

	listed := &model.Activity{
		ID:        "01J00000000000000000000001",
		Type:      model.EventItemListed,
		Signature: "01J00000000000000000000001",
		Address:   key(1).String(),
		Actor:     key(10).String(),
		Price:     1_000_000,
		Fee:       5000,
		CreatedAt: now,
	}
	bought := &model.Activity{
		ID:        "01J00000000000000000000002",
		Type:      model.EventItemPurchased,
		Signature: "01J00000000000000000000002",
		Address:   key(1).String(),
		Actor:     key(20).String(),
		Seller:    key(10).String(),
		Price:     1_000_000,
		Fee:       5000,
		CreatedAt: now,
	}
	require.NoError(t, idx.RecordActivity(ctx, listed))
	require.NoError(t, idx.RecordActivity(ctx, bought))
	// 同じ署名の再送は無視される
	require.NoError(t, idx.RecordActivity(ctx, bought))

	history, err := idx.Activity(ctx, key(1))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.EventItemListed, history[0].Type)
	assert.Equal(t, model.EventItemPurchased, history[1].Type)
	assert.Equal(t, key(10).String(), history[1].Seller)

	got, err := idx.BySignature(ctx, bought.Signature)
	require.NoError(t, err)
	assert.Equal(t, key(20).String(), got.Actor)
	assert.True(t, now.Equal(got.CreatedAt))

	_, err = idx.BySignature(ctx, "missing")
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestPersistentIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := index.New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, idx.UpsertItem(ctx, account(1, 10, "a", true, 1)))
	require.NoError(t, idx.Close())

	idx, err = index.New(dir, nil)
	require.NoError(t, err)
	defer idx.Close()
	got, err := idx.Item(ctx, key(1))
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}
