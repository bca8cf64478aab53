package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidlot/core/fault"
	"bidlot/core/ports"
	"bidlot/models"
)

func TestTransaction_RollbackOnError(t *testing.T) {
	s := New()
	user := s.AddUser(models.User{Username: "alice", Credit: 100})
	item := s.AddItem(models.Item{Name: "lamp", State: models.StateActive, InitialPrice: 10})

	boom := errors.New("boom")
	err := s.Transaction(context.Background(), func(tx ports.Repositories) error {
		require.NoError(t, tx.Users().StoreCredit(context.Background(), user.ID, 40))
		require.NoError(t, tx.Bids().Save(context.Background(), &models.Bid{
			UserID: user.ID, ItemID: item.ID, PlacedAt: time.Now(), Price: 60,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, _ := s.User(user.ID)
	assert.Equal(t, int64(100), stored.Credit)
	storedItem, _ := s.Item(item.ID)
	assert.Empty(t, storedItem.Bids)
}

func TestTransaction_Commit(t *testing.T) {
	s := New()
	user := s.AddUser(models.User{Username: "alice", Credit: 100})

	err := s.Transaction(context.Background(), func(tx ports.Repositories) error {
		return tx.Users().StoreCredit(context.Background(), user.ID, 40)
	})
	require.NoError(t, err)

	stored, _ := s.User(user.ID)
	assert.Equal(t, int64(40), stored.Credit)
}

func TestTransaction_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Transaction(ctx, func(tx ports.Repositories) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestItemRepository(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seller := s.AddUser(models.User{Username: "seller"})
	bidder := s.AddUser(models.User{Username: "bidder", Credit: 100})

	due := s.AddItem(models.Item{
		Name: "due", State: models.StateActive, SellerID: seller.ID,
		BiddingStart: now.Add(-time.Hour), BiddingEnd: now,
		Bids: []models.Bid{{UserID: bidder.ID, PlacedAt: now.Add(-time.Minute), Price: 20}},
	})
	starting := s.AddItem(models.Item{
		Name: "starting", State: models.StateWaiting, SellerID: seller.ID,
		BiddingStart: now, BiddingEnd: now.Add(time.Hour),
	})
	s.AddItem(models.Item{
		Name: "open", State: models.StateActive, SellerID: seller.ID,
		BiddingStart: now.Add(-time.Hour), BiddingEnd: now.Add(time.Hour),
	})

	err := s.Transaction(ctx, func(tx ports.Repositories) error {
		ids, err := tx.Items().FindDue(ctx, now)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{due.ID, starting.ID}, ids)

		found, err := tx.Items().FindAll(ctx, ports.Criteria{BidderID: &bidder.ID})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, due.ID, found[0].ID)
		assert.Len(t, found[0].Bids, 1)

		_, err = tx.Items().FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, fault.ItemNotFound)

		place := &models.PickupPlace{ItemID: due.ID, Street: "Main 1", ZipCode: "1000", City: "Town"}
		require.NoError(t, tx.Items().SavePickupPlace(ctx, place))
		item, err := tx.Items().FindByID(ctx, due.ID)
		require.NoError(t, err)
		require.NotNil(t, item.PickupPlace)
		assert.Equal(t, "Town", item.PickupPlace.City)

		require.NoError(t, tx.Items().Delete(ctx, item))
		bids, err := tx.Bids().FindByUser(ctx, bidder.ID)
		require.NoError(t, err)
		assert.Empty(t, bids)
		return nil
	})
	require.NoError(t, err)
}

func TestBidRepository_LeadingBid(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	a := s.AddUser(models.User{Username: "a"})
	b := s.AddUser(models.User{Username: "b"})
	item := s.AddItem(models.Item{Name: "x", State: models.StateActive})

	err := s.Transaction(ctx, func(tx ports.Repositories) error {
		leading, err := tx.Bids().FindLeadingBid(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, leading)

		require.NoError(t, tx.Bids().Save(ctx, &models.Bid{UserID: a.ID, ItemID: item.ID, PlacedAt: now, Price: 10}))
		require.NoError(t, tx.Bids().Save(ctx, &models.Bid{UserID: b.ID, ItemID: item.ID, PlacedAt: now.Add(time.Second), Price: 15}))

		leading, err = tx.Bids().FindLeadingBid(ctx, item.ID)
		require.NoError(t, err)
		require.NotNil(t, leading)
		assert.Equal(t, b.ID, leading.UserID)

		err = tx.Bids().Save(ctx, &models.Bid{UserID: a.ID, ItemID: item.ID, PlacedAt: now, Price: 20})
		assert.ErrorIs(t, err, ErrDuplicateKey)
		return nil
	})
	require.NoError(t, err)
}
