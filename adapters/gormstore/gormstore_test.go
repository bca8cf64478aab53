package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bidlot/core/fault"
	"bidlot/core/ports"
	"bidlot/models"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*gorm.DB, *Store) {
	t.Helper()
	db, err := OpenSQLite("file::memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db, New(db)
}

func seedUser(t *testing.T, db *gorm.DB, name string, credit int64) models.User {
	t.Helper()
	user := models.User{Username: name, Credit: credit}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedItem(t *testing.T, db *gorm.DB, item models.Item) models.Item {
	t.Helper()
	if item.Name == "" {
		item.Name = "lamp"
	}
	if item.InitialPrice == 0 {
		item.InitialPrice = 10
	}
	if item.CategoryID == uuid.Nil {
		item.CategoryID = uuid.New()
	}
	require.NoError(t, db.Omit("Category", "Seller", "Buyer").Create(&item).Error)
	return item
}

func TestItemRepository_SaveAndFind(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()
	seller := uuid.New()

	item := &models.Item{
		Name:         "Brass lamp",
		Description:  "desk lamp",
		CategoryID:   uuid.New(),
		InitialPrice: 100,
		BiddingStart: now,
		BiddingEnd:   now.Add(time.Hour),
		State:        models.StateWaiting,
		SellerID:     seller,
		PickupPlace:  &models.PickupPlace{Street: "Main St 1", ZipCode: "1000", City: "Springfield"},
		Images: []models.Image{
			{Position: 1, Url: "https://bucket/2.png"},
			{Position: 0, Url: "https://bucket/1.png"},
		},
	}

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		return tx.Items().Save(ctx, item)
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, item.ID)

	err = store.Transaction(ctx, func(tx ports.Repositories) error {
		found, err := tx.Items().FindByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, "Brass lamp", found.Name)
		assert.True(t, now.Equal(found.BiddingStart))
		require.NotNil(t, found.PickupPlace)
		assert.Equal(t, "Springfield", found.PickupPlace.City)
		require.Len(t, found.Images, 2)
		assert.Equal(t, "https://bucket/1.png", found.Images[0].Url)
		assert.Nil(t, found.BuyerID)

		_, err = tx.Items().FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, fault.ItemNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestItemRepository_Update(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	buyer := seedUser(t, db, "buyer", 0)
	item := seedItem(t, db, models.Item{
		State: models.StateActive, SellerID: uuid.New(),
		BiddingStart: now.Add(-time.Hour), BiddingEnd: now,
	})

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		found, err := tx.Items().FindByID(ctx, item.ID)
		require.NoError(t, err)
		found.State = models.StateSold
		found.BuyerID = &buyer.ID
		found.FinalPrice = 40
		found.Name = "renamed"
		return tx.Items().Update(ctx, found)
	})
	require.NoError(t, err)

	var stored models.Item
	require.NoError(t, db.First(&stored, "id = ?", item.ID).Error)
	assert.Equal(t, models.StateSold, stored.State)
	assert.Equal(t, &buyer.ID, stored.BuyerID)
	assert.Equal(t, int64(40), stored.FinalPrice)
	assert.Equal(t, "renamed", stored.Name)

	err = store.Transaction(ctx, func(tx ports.Repositories) error {
		return tx.Items().Update(ctx, &models.Item{ID: uuid.New(), Name: "ghost", State: models.StateWaiting})
	})
	assert.ErrorIs(t, err, fault.ItemNotFound)
}

func TestItemRepository_FindAll(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	seller := seedUser(t, db, "seller", 0)
	bidder := seedUser(t, db, "bidder", 100)
	category := uuid.New()

	lamp := seedItem(t, db, models.Item{
		Name: "Brass lamp", Description: "100% brass", CategoryID: category, SellerID: seller.ID,
		State: models.StateActive, BiddingStart: now, BiddingEnd: now.Add(time.Hour),
	})
	chair := seedItem(t, db, models.Item{
		Name: "Chair", Description: "oak", SellerID: seller.ID,
		State: models.StateWaiting, BiddingStart: now.Add(time.Hour), BiddingEnd: now.Add(2 * time.Hour),
	})
	seedItem(t, db, models.Item{
		Name: "Table", SellerID: uuid.New(),
		State: models.StateCanceled, BiddingStart: now.Add(-2 * time.Hour), BiddingEnd: now.Add(-time.Hour),
	})
	require.NoError(t, db.Create(&models.Bid{UserID: bidder.ID, ItemID: chair.ID, PlacedAt: now, Price: 20}).Error)

	ids := func(items []models.Item) []uuid.UUID {
		out := make([]uuid.UUID, len(items))
		for i, item := range items {
			out[i] = item.ID
		}
		return out
	}

	tests := []struct {
		name     string
		criteria ports.Criteria
		want     []uuid.UUID
	}{
		{name: "by seller ordered by end", criteria: ports.Criteria{SellerID: &seller.ID}, want: []uuid.UUID{lamp.ID, chair.ID}},
		{name: "by bidder", criteria: ports.Criteria{BidderID: &bidder.ID}, want: []uuid.UUID{chair.ID}},
		{name: "by category", criteria: ports.Criteria{CategoryID: &category}, want: []uuid.UUID{lamp.ID}},
		{name: "by states", criteria: ports.Criteria{States: []models.ItemState{models.StateWaiting, models.StateActive}}, want: []uuid.UUID{lamp.ID, chair.ID}},
		{name: "keywords are case insensitive", criteria: ports.Criteria{Keywords: "BRASS lamp"}, want: []uuid.UUID{lamp.ID}},
		{name: "percent is literal", criteria: ports.Criteria{Keywords: "100%"}, want: []uuid.UUID{lamp.ID}},
		{name: "no match", criteria: ports.Criteria{Keywords: "sofa"}, want: []uuid.UUID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Transaction(ctx, func(tx ports.Repositories) error {
				items, err := tx.Items().FindAll(ctx, tt.criteria)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(items))
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestItemRepository_FindDue(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	starting := seedItem(t, db, models.Item{State: models.StateWaiting, BiddingStart: now, BiddingEnd: now.Add(time.Hour)})
	ending := seedItem(t, db, models.Item{State: models.StateActive, BiddingStart: now.Add(-time.Hour), BiddingEnd: now})
	seedItem(t, db, models.Item{State: models.StateActive, BiddingStart: now.Add(-time.Hour), BiddingEnd: now.Add(time.Minute)})
	seedItem(t, db, models.Item{State: models.StateWaiting, BiddingStart: now.Add(time.Minute), BiddingEnd: now.Add(time.Hour)})
	seedItem(t, db, models.Item{State: models.StateCanceled, BiddingStart: now.Add(-2 * time.Hour), BiddingEnd: now.Add(-time.Hour)})

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		ids, err := tx.Items().FindDue(ctx, now)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{starting.ID, ending.ID}, ids)
		return nil
	})
	require.NoError(t, err)
}

func TestItemRepository_PickupPlaceAndDelete(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	bidder := seedUser(t, db, "bidder", 100)
	item := seedItem(t, db, models.Item{
		State: models.StateActive, BiddingStart: now, BiddingEnd: now.Add(time.Hour),
		Images: []models.Image{{Url: "https://bucket/1.png"}},
	})
	require.NoError(t, db.Create(&models.Bid{UserID: bidder.ID, ItemID: item.ID, PlacedAt: now, Price: 20}).Error)

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		place := &models.PickupPlace{ItemID: item.ID, Street: "Main", ZipCode: "1000", City: "Town"}
		require.NoError(t, tx.Items().SavePickupPlace(ctx, place))
		place.City = "City"
		require.NoError(t, tx.Items().SavePickupPlace(ctx, place))

		found, err := tx.Items().FindByID(ctx, item.ID)
		require.NoError(t, err)
		require.NotNil(t, found.PickupPlace)
		assert.Equal(t, "City", found.PickupPlace.City)

		require.NoError(t, tx.Items().DeletePickupPlace(ctx, item.ID))
		found, err = tx.Items().FindByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, found.PickupPlace)

		require.NoError(t, tx.Items().Delete(ctx, found))
		assert.ErrorIs(t, tx.Items().Delete(ctx, found), fault.ItemNotFound)
		return nil
	})
	require.NoError(t, err)

	var bids, images int64
	require.NoError(t, db.Model(&models.Bid{}).Count(&bids).Error)
	require.NoError(t, db.Model(&models.Image{}).Count(&images).Error)
	assert.Zero(t, bids)
	assert.Zero(t, images)
}

func TestBidRepository(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	a := seedUser(t, db, "a", 100)
	b := seedUser(t, db, "b", 100)
	item := seedItem(t, db, models.Item{State: models.StateActive, BiddingStart: now, BiddingEnd: now.Add(time.Hour)})

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		leading, err := tx.Bids().FindLeadingBid(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, leading)

		first := &models.Bid{UserID: a.ID, ItemID: item.ID, PlacedAt: now, Price: 10}
		require.NoError(t, tx.Bids().Save(ctx, first))
		require.NoError(t, tx.Bids().Save(ctx, &models.Bid{UserID: b.ID, ItemID: item.ID, PlacedAt: now.Add(time.Second), Price: 15}))
		require.NoError(t, tx.Bids().Save(ctx, &models.Bid{UserID: a.ID, ItemID: item.ID, PlacedAt: now.Add(2 * time.Second), Price: 15}))

		leading, err = tx.Bids().FindLeadingBid(ctx, item.ID)
		require.NoError(t, err)
		require.NotNil(t, leading)
		assert.Equal(t, b.ID, leading.UserID)

		byItem, err := tx.Bids().FindByItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Len(t, byItem, 3)

		byUser, err := tx.Bids().FindByUser(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, byUser, 2)

		require.NoError(t, tx.Bids().Delete(ctx, first))
		assert.ErrorIs(t, tx.Bids().Delete(ctx, first), fault.BidNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestUserRepository(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, db, "alice", 100)
	item := seedItem(t, db, models.Item{State: models.StateActive, BiddingStart: now, BiddingEnd: now.Add(time.Hour)})
	require.NoError(t, db.Create(&models.Bid{UserID: user.ID, ItemID: item.ID, PlacedAt: now, Price: 20}).Error)

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		credit, err := tx.Users().LoadCredit(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), credit)

		require.NoError(t, tx.Users().StoreCredit(ctx, user.ID, 0))
		credit, err = tx.Users().LoadCredit(ctx, user.ID)
		require.NoError(t, err)
		assert.Zero(t, credit)

		found, err := tx.Users().FindByID(ctx, user.ID)
		require.NoError(t, err)
		found.Archived = true
		require.NoError(t, tx.Users().Update(ctx, found))

		_, err = tx.Users().LoadCredit(ctx, uuid.New())
		assert.ErrorIs(t, err, fault.UserNotFound)
		assert.ErrorIs(t, tx.Users().StoreCredit(ctx, uuid.New(), 1), fault.UserNotFound)
		return nil
	})
	require.NoError(t, err)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	assert.True(t, stored.Archived)
	assert.Zero(t, stored.Credit)

	err = store.Transaction(ctx, func(tx ports.Repositories) error {
		return tx.Users().Delete(ctx, &stored)
	})
	require.NoError(t, err)

	var bids int64
	require.NoError(t, db.Model(&models.Bid{}).Count(&bids).Error)
	assert.Zero(t, bids)
}

func TestUserRepository_DetachSeller(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	seller := seedUser(t, db, "seller", 0)
	buyer := seedUser(t, db, "buyer", 0)
	item := seedItem(t, db, models.Item{
		SellerID: seller.ID, State: models.StateSold, BuyerID: &buyer.ID, FinalPrice: 20,
		BiddingStart: now.Add(-time.Hour), BiddingEnd: now,
	})
	require.NoError(t, db.Create(&models.Bid{UserID: buyer.ID, ItemID: item.ID, PlacedAt: now.Add(-time.Minute), Price: 20}).Error)

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		require.NoError(t, tx.Users().Save(ctx, models.DeletedUser()))
		found, err := tx.Items().FindByID(ctx, item.ID)
		require.NoError(t, err)
		found.SellerID = models.DeletedUserID
		require.NoError(t, tx.Items().Update(ctx, found))
		return tx.Users().Delete(ctx, &seller)
	})
	require.NoError(t, err)

	var stored models.Item
	require.NoError(t, db.First(&stored, "id = ?", item.ID).Error)
	assert.Equal(t, models.DeletedUserID, stored.SellerID)
	var bids int64
	require.NoError(t, db.Model(&models.Bid{}).Where("item_id = ?", item.ID).Count(&bids).Error)
	assert.Equal(t, int64(1), bids)

	err = store.Transaction(ctx, func(tx ports.Repositories) error {
		return tx.Users().Save(ctx, models.DeletedUser())
	})
	assert.Error(t, err)
}

func TestTransaction_Rollback(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, db, "alice", 100)

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		require.NoError(t, tx.Users().StoreCredit(ctx, user.ID, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	assert.Equal(t, int64(100), stored.Credit)
}

func TestUserCreditCheckConstraint(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, db, "alice", 100)

	err := store.Transaction(ctx, func(tx ports.Repositories) error {
		return tx.Users().StoreCredit(ctx, user.ID, -1)
	})
	assert.Error(t, err)
}
