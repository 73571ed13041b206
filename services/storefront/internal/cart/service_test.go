package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"paperwise/pkg/domain"
	"paperwise/pkg/store"
)

func newTestService(t *testing.T, s Store) (*Service, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(Config{Store: s, Redis: client}), client
}

func seedCatalog(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	for _, doc := range []domain.Document{
		{ID: "doc1", Name: "Mutual NDA", Price: decimal.RequireFromString("19.99"), Category: domain.CategoryContracts},
		{ID: "doc2", Name: "Residential Lease", Price: decimal.RequireFromString("29.00"), Category: domain.CategoryRealEstate},
		{ID: "doc3", Name: "Offer Letter", Price: decimal.RequireFromString("9.50"), Category: domain.CategoryEmployment},
	} {
		require.NoError(t, s.SaveDocument(context.Background(), doc))
	}
}

func quantities(lines []domain.CartLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.DocumentID] = l.Quantity
	}
	return out
}

func TestSyncGuestCartAddsQuantitiesAndEmptiesGuestCart(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, _ := newTestService(t, mem)

	user := Owner{UserID: "u1"}
	guest := Owner{GuestToken: "guest-1"}
	_, err := svc.AddItem(ctx, user, "doc1", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, user, "doc3", 4)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, guest, "doc1", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, guest, "doc2", 1)
	require.NoError(t, err)

	merged, err := svc.SyncGuestCart(ctx, "u1", "guest-1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doc1": 3, "doc2": 1, "doc3": 4}, quantities(merged))

	left, err := svc.Load(ctx, guest)
	require.NoError(t, err)
	require.Empty(t, left)

	again, err := svc.SyncGuestCart(ctx, "u1", "guest-1")
	require.NoError(t, err)
	require.Equal(t, quantities(merged), quantities(again), "second sync must not add anything")
}

type failingMergeStore struct {
	*store.MemoryStore
}

func (failingMergeStore) MergeCartItems(context.Context, string, []domain.CartLine) error {
	return errStoreDown
}

func TestSyncGuestCartKeepsGuestLinesWhenMergeFails(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, client := newTestService(t, failingMergeStore{mem})
	guest := Owner{GuestToken: "guest-1"}
	_, err := svc.AddItem(ctx, guest, "doc1", 2)
	require.NoError(t, err)

	_, err = svc.SyncGuestCart(ctx, "u1", "guest-1")
	require.ErrorIs(t, err, errStoreDown)

	left, err := NewLocalRepository(client, "guest-1").Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doc1": 2}, quantities(left))
	require.Equal(t, domain.CartValidity, client.TTL(ctx, guestCartPrefix+"guest-1").Val())
}

func TestSyncGuestCartMergesOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, client := newTestService(t, mem)
	_, err := svc.AddItem(ctx, Owner{GuestToken: "guest-1"}, "doc2", 1)
	require.NoError(t, err)

	lines, err := NewLocalRepository(client, "guest-1").Take(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	merged, err := svc.SyncGuestCart(ctx, "u1", "guest-1")
	require.NoError(t, err)
	require.Empty(t, merged, "a claimed guest cart must not be merged again")
}

func TestUpdateQuantityNonPositiveRemovesLine(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, _ := newTestService(t, mem)

	for _, owner := range []Owner{{UserID: "u1"}, {GuestToken: "guest-1"}} {
		_, err := svc.AddItem(ctx, owner, "doc1", 2)
		require.NoError(t, err)
		_, err = svc.AddItem(ctx, owner, "doc2", 1)
		require.NoError(t, err)

		lines, err := svc.UpdateQuantity(ctx, owner, "doc1", 0)
		require.NoError(t, err)
		require.Equal(t, map[string]int{"doc2": 1}, quantities(lines), "owner %+v", owner)

		lines, err = svc.UpdateQuantity(ctx, owner, "doc2", -3)
		require.NoError(t, err)
		require.Empty(t, lines, "owner %+v", owner)
	}
}

func TestUpdateQuantitySameRuleForEveryOwner(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, _ := newTestService(t, mem)

	for _, owner := range []Owner{{UserID: "u1"}, {GuestToken: "guest-1"}} {
		lines, err := svc.UpdateQuantity(ctx, owner, "doc2", 3)
		require.NoError(t, err)
		require.Empty(t, lines, "owner %+v: update on an empty cart", owner)

		_, err = svc.AddItem(ctx, owner, "doc1", 1)
		require.NoError(t, err)
		lines, err = svc.UpdateQuantity(ctx, owner, "doc2", 3)
		require.NoError(t, err)
		require.Equal(t, map[string]int{"doc1": 1}, quantities(lines), "owner %+v: missing line", owner)

		lines, err = svc.UpdateQuantity(ctx, owner, "doc1", 4)
		require.NoError(t, err)
		require.Equal(t, map[string]int{"doc1": 4}, quantities(lines), "owner %+v: existing line", owner)

		_, err = svc.UpdateQuantity(ctx, owner, "no-such-doc", 5)
		require.Equal(t, domain.KindNotFound, domain.KindOf(err), "owner %+v: unknown document", owner)
	}

	c, ok, err := mem.ActiveCart(ctx, "u1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	lines, err := mem.ListCartLines(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doc1": 4}, quantities(lines))
}

func TestAddItemIncrementsExistingLine(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, _ := newTestService(t, mem)
	guest := Owner{GuestToken: "guest-1"}

	_, err := svc.AddItem(ctx, guest, "doc1", 0)
	require.NoError(t, err)
	lines, err := svc.AddItem(ctx, guest, "doc1", 2)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, 3, lines[0].Quantity)
	require.Equal(t, "Mutual NDA", lines[0].Name)
	require.True(t, lines[0].Price.Equal(decimal.RequireFromString("19.99")))

	lines, err = svc.UpdateQuantity(ctx, guest, "doc1", 5)
	require.NoError(t, err)
	require.Equal(t, 5, lines[0].Quantity)
}

func TestAddItemRejectsUnknownDocument(t *testing.T) {
	mem := store.NewMemoryStore()
	svc, _ := newTestService(t, mem)
	_, err := svc.AddItem(context.Background(), Owner{UserID: "u1"}, "missing", 1)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestGuestCartRequiresToken(t *testing.T) {
	mem := store.NewMemoryStore()
	svc, _ := newTestService(t, mem)
	_, err := svc.Load(context.Background(), Owner{})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

type brokenCartStore struct {
	*store.MemoryStore
}

var errStoreDown = errors.New("database unavailable")

func (brokenCartStore) ActiveCart(context.Context, string, time.Time) (domain.Cart, bool, error) {
	return domain.Cart{}, false, errStoreDown
}

func TestStoreFailureFallsBackToGuestCart(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, _ := newTestService(t, brokenCartStore{mem})
	owner := Owner{UserID: "u1", GuestToken: "guest-1"}

	lines, err := svc.AddItem(ctx, owner, "doc1", 1)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doc1": 1}, quantities(lines))

	lines, err = svc.Load(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doc1": 1}, quantities(lines))

	_, err = svc.AddItem(ctx, Owner{UserID: "u1"}, "doc1", 1)
	require.ErrorIs(t, err, errStoreDown)
}

func TestMergeItemsSkipsUnknownDocuments(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, _ := newTestService(t, mem)
	_, err := svc.AddItem(ctx, Owner{UserID: "u1"}, "doc2", 2)
	require.NoError(t, err)

	lines, err := svc.MergeItems(ctx, "u1", []Item{
		{DocumentID: "doc2", Quantity: 1},
		{DocumentID: "gone", Quantity: 1},
		{DocumentID: "doc3", Quantity: 0},
		{DocumentID: "doc1", Quantity: 2},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doc1": 2, "doc2": 3}, quantities(lines))
}

func TestMutationsPublishCartCount(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedCatalog(t, mem)
	svc, _ := newTestService(t, mem)

	events, cancel := svc.Events().Subscribe(EventKey("u1"))
	defer cancel()

	_, err := svc.AddItem(ctx, Owner{UserID: "u1"}, "doc1", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, Owner{UserID: "u1"}, "doc2", 1)
	require.NoError(t, err)
	_, err = svc.Clear(ctx, Owner{UserID: "u1"})
	require.NoError(t, err)

	var counts []int
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			require.Equal(t, EventUpdated, ev.Type)
			counts = append(counts, ev.Count)
		case <-time.After(time.Second):
			require.FailNow(t, "timed out waiting for event", "event %d", i)
		}
	}
	require.Equal(t, []int{2, 3, 0}, counts)
}

func TestBroadcasterCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe("user:u1")
	other, cancelOther := b.Subscribe("user:u2")
	defer cancelOther()
	require.Equal(t, 1, b.Subscribers("user:u1"))

	b.Publish(Event{Type: EventUpdated, Owner: "user:u1", Count: 1})
	ev := <-ch
	require.Equal(t, 1, ev.Count)
	select {
	case ev := <-other:
		require.Failf(t, "event leaked to other owner", "%+v", ev)
	default:
	}

	cancel()
	cancel()
	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
	require.Zero(t, b.Subscribers("user:u1"))
}
