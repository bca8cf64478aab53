package ports_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"

	"bidlot/core/ports"
	"bidlot/models"
)

func TestCriteriaMatch(t *testing.T) {
	seller, buyer, bidder, category := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	item := &models.Item{
		Name:        "Vintage lamp",
		Description: "Brass desk lamp in working order",
		CategoryID:  category,
		SellerID:    seller,
		BuyerID:     &buyer,
		State:       models.StateSold,
	}
	bids := []models.Bid{{UserID: bidder, Price: 10}, {UserID: buyer, Price: 20}}

	tests := []struct {
		name     string
		criteria ports.Criteria
		want     bool
	}{
		{name: "empty criteria", criteria: ports.Criteria{}, want: true},
		{name: "seller matches", criteria: ports.Criteria{SellerID: &seller}, want: true},
		{name: "seller differs", criteria: ports.Criteria{SellerID: lo.ToPtr(uuid.New())}, want: false},
		{name: "buyer matches", criteria: ports.Criteria{BuyerID: &buyer}, want: true},
		{name: "bidder matches", criteria: ports.Criteria{BidderID: &bidder}, want: true},
		{name: "bidder never bid", criteria: ports.Criteria{BidderID: &seller}, want: false},
		{name: "category matches", criteria: ports.Criteria{CategoryID: &category}, want: true},
		{name: "state listed", criteria: ports.Criteria{States: []models.ItemState{models.StateActive, models.StateSold}}, want: true},
		{name: "state not listed", criteria: ports.Criteria{States: []models.ItemState{models.StateActive}}, want: false},
		{name: "keywords in name and description", criteria: ports.Criteria{Keywords: "lamp  BRASS"}, want: true},
		{name: "one keyword missing", criteria: ports.Criteria{Keywords: "lamp chair"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Match(item, bids))
		})
	}
}
