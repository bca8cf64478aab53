package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidlot/adapters/memstore"
	"bidlot/adapters/sse"
	"bidlot/core/fault"
	"bidlot/core/keylock"
	"bidlot/core/ports"
	"bidlot/core/timewindow"
	"bidlot/models"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	store  *memstore.Store
	clock  *timewindow.MockClock
	impl   *ServerImpl
	router *gin.Engine
	seller models.User
	bidder models.User
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	clock := timewindow.NewMockClock(now)
	hub := sse.NewHub(func(event models.AuctionEvent) string { return event.ItemID.String() })
	impl := newServerImpl(ServerConfig{}, dependencies{
		store:     store,
		locker:    keylock.New(),
		remover:   ports.NopImageRemover(),
		publisher: hub,
		hub:       hub,
		clock:     clock,
	})
	impl.keepAlive = 50 * time.Millisecond
	hub.Start()
	t.Cleanup(hub.Close)

	router := gin.New()
	impl.RegisterHandlers(router)

	return &apiFixture{
		store:  store,
		clock:  clock,
		impl:   impl,
		router: router,
		seller: store.AddUser(models.User{Username: "seller"}),
		bidder: store.AddUser(models.User{Username: "bidder", Credit: 500}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, caller uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != uuid.Nil {
		req.Header.Set(HeaderUserID, caller.String())
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) activeItem() models.Item {
	return f.store.AddItem(models.Item{
		Name:         "lamp",
		CategoryID:   uuid.New(),
		InitialPrice: 100,
		SellerID:     f.seller.ID,
		State:        models.StateActive,
		BiddingStart: now.Add(-time.Hour),
		BiddingEnd:   now.Add(time.Hour),
	})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPostItem(t *testing.T) {
	f := setupAPI(t)
	body := map[string]any{
		"name":         "Brass lamp",
		"description":  "desk lamp",
		"categoryId":   uuid.New(),
		"initialPrice": 100,
		"biddingStart": now.Add(time.Hour),
		"biddingEnd":   now.Add(24 * time.Hour),
	}

	w := f.do(t, http.MethodPost, "/items", f.seller.ID, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	item := decode[Item](t, w)
	assert.Equal(t, models.StateWaiting, item.State)
	assert.Equal(t, f.seller.ID, item.SellerID)
	assert.Equal(t, "/items/"+item.ID.String(), w.Header().Get("Location"))
	assert.Empty(t, item.Bids)

	w = f.do(t, http.MethodPost, "/items", uuid.Nil, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostItem_ValidationErrors(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodPost, "/items", f.seller.ID, map[string]any{
		"name":       "",
		"biddingEnd": now.Add(time.Hour),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Contains(t, resp.Errors, fault.InvalidItemName)
	assert.Contains(t, resp.Errors, fault.InvalidItemCategory)
	assert.Contains(t, resp.Errors, fault.InvalidItemPrice)

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader("{"))
	req.Header.Set(HeaderUserID, f.seller.ID.String())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetItem(t *testing.T) {
	f := setupAPI(t)
	item := f.activeItem()

	w := f.do(t, http.MethodGet, "/items/"+item.ID.String(), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, item.ID, decode[Item](t, w).ID)

	w = f.do(t, http.MethodGet, "/items/not-a-uuid", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/items/"+uuid.NewString(), uuid.Nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []fault.Kind{fault.ItemNotFound}, decode[ErrorResponse](t, w).Errors)
}

func TestGetItems_Filters(t *testing.T) {
	f := setupAPI(t)
	active := f.activeItem()
	f.store.AddItem(models.Item{
		Name:         "chair",
		CategoryID:   uuid.New(),
		InitialPrice: 10,
		SellerID:     f.seller.ID,
		State:        models.StateWaiting,
		BiddingStart: now.Add(time.Hour),
		BiddingEnd:   now.Add(2 * time.Hour),
	})

	w := f.do(t, http.MethodGet, "/items?seller="+f.seller.ID.String(), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]Item](t, w), 2)

	w = f.do(t, http.MethodGet, "/items?state=active", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]Item](t, w)
	require.Len(t, items, 1)
	assert.Equal(t, active.ID, items[0].ID)

	w = f.do(t, http.MethodGet, "/items?state=unknown", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/items?bidder=nope", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPatchItem_OnlySeller(t *testing.T) {
	f := setupAPI(t)
	item := f.activeItem()

	w := f.do(t, http.MethodPatch, "/items/"+item.ID.String(), f.bidder.ID, map[string]any{"name": "stolen"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPatch, "/items/"+item.ID.String(), f.seller.ID, map[string]any{"name": "Floor lamp"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Floor lamp", decode[Item](t, w).Name)
}

func TestPickupPlace(t *testing.T) {
	f := setupAPI(t)
	item := f.activeItem()
	path := "/items/" + item.ID.String() + "/pickup-place"

	w := f.do(t, http.MethodPut, path, f.seller.ID, PickupPlace{Street: "Main St 1", ZipCode: "1000", City: "Springfield"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, decode[Item](t, w).PickupPlace)

	w = f.do(t, http.MethodDelete, path, f.seller.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decode[Item](t, w).PickupPlace)
}

func TestPostBid(t *testing.T) {
	f := setupAPI(t)
	item := f.activeItem()
	path := "/items/" + item.ID.String() + "/bids"

	w := f.do(t, http.MethodPost, path, f.bidder.ID, PlaceBidRequest{Price: 150})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bid := decode[Bid](t, w)
	assert.Equal(t, int64(150), bid.Price)
	assert.Equal(t, f.bidder.ID, bid.UserID)

	w = f.do(t, http.MethodGet, "/users/"+f.bidder.ID.String()+"/credit", f.bidder.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(350), decode[Credit](t, w).Credit)

	// 已領先的出價者不能再出價
	w = f.do(t, http.MethodPost, path, f.bidder.ID, PlaceBidRequest{Price: 200})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []fault.Kind{fault.InvalidBidUser}, decode[ErrorResponse](t, w).Errors)

	w = f.do(t, http.MethodPost, path, f.seller.ID, PlaceBidRequest{Price: 120})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []fault.Kind{fault.InvalidBidPrice}, decode[ErrorResponse](t, w).Errors)

	w = f.do(t, http.MethodPost, "/items/"+uuid.NewString()+"/bids", f.bidder.ID, PlaceBidRequest{Price: 150})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsers(t *testing.T) {
	f := setupAPI(t)
	creditPath := "/users/" + f.bidder.ID.String() + "/credit"

	w := f.do(t, http.MethodGet, creditPath, f.seller.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/users/"+f.bidder.ID.String()+"/archive", f.bidder.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[User](t, w).Archived)

	w = f.do(t, http.MethodDelete, "/users/"+f.bidder.ID.String(), f.bidder.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, creditPath, f.bidder.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []fault.Kind{fault.UserNotFound}, decode[ErrorResponse](t, w).Errors)
}

func TestPostSweep(t *testing.T) {
	f := setupAPI(t)
	item := f.store.AddItem(models.Item{
		Name:         "lamp",
		CategoryID:   uuid.New(),
		InitialPrice: 100,
		SellerID:     f.seller.ID,
		State:        models.StateActive,
		BiddingStart: now.Add(-2 * time.Hour),
		BiddingEnd:   now.Add(-time.Hour),
		Bids: []models.Bid{
			{UserID: f.bidder.ID, PlacedAt: now.Add(-90 * time.Minute), Price: 120},
		},
	})

	w := f.do(t, http.MethodPost, "/admin/sweep", uuid.Nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	stored, _ := f.store.Item(item.ID)
	assert.Equal(t, models.StateActive, stored.State)

	w = f.do(t, http.MethodPost, "/admin/sweep", f.seller.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[SweepReport](t, w)
	assert.Equal(t, []Transition{{ItemID: item.ID, From: models.StateActive, To: models.StateSold}}, report.Transitioned)
	assert.Empty(t, report.Flagged)

	stored, ok := f.store.Item(item.ID)
	require.True(t, ok)
	assert.Equal(t, models.StateSold, stored.State)
}

func TestPostReconcile(t *testing.T) {
	f := setupAPI(t)
	item := f.store.AddItem(models.Item{
		Name:         "lamp",
		CategoryID:   uuid.New(),
		InitialPrice: 100,
		SellerID:     f.seller.ID,
		State:        models.StateActive,
		BiddingStart: now.Add(-2 * time.Hour),
		BiddingEnd:   now.Add(-time.Hour),
	})
	broken := f.store.AddItem(models.Item{
		Name:         "broken",
		CategoryID:   uuid.New(),
		InitialPrice: 100,
		SellerID:     f.seller.ID,
		State:        models.StateActive,
		BiddingStart: now.Add(-time.Hour),
		BiddingEnd:   now.Add(time.Hour),
		BuyerID:      &f.bidder.ID,
	})

	w := f.do(t, http.MethodPost, "/admin/items/"+item.ID.String()+"/reconcile", uuid.Nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/admin/items/"+item.ID.String()+"/reconcile", f.seller.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StateCanceled, decode[Item](t, w).State)

	w = f.do(t, http.MethodPost, "/admin/items/"+broken.ID.String()+"/reconcile", f.seller.ID, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []fault.Kind{fault.InvalidItemState}, decode[ErrorResponse](t, w).Errors)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupAPI(t)
	item := f.activeItem()
	f.do(t, http.MethodPost, "/items/"+item.ID.String()+"/bids", f.bidder.ID, PlaceBidRequest{Price: 150})

	w := f.do(t, http.MethodGet, "/metrics", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `bidlot_bids_total{outcome="accepted"} 1`)
	assert.Contains(t, w.Body.String(), `handler="/items/:itemID/bids"`)
}

func TestGetItemEvents(t *testing.T) {
	f := setupAPI(t)
	item := f.activeItem()
	server := httptest.NewServer(f.router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/items/" + item.ID.String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	w := f.do(t, http.MethodPost, "/items/"+item.ID.String()+"/bids", f.bidder.ID, PlaceBidRequest{Price: 150})
	require.Equal(t, http.StatusCreated, w.Code)

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event != "":
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	assert.Equal(t, string(models.EventBidPlaced), event)

	var payload Event
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, item.ID, payload.ItemID)
	assert.Equal(t, int64(150), payload.Price)
	require.NotNil(t, payload.UserID)
	assert.Equal(t, f.bidder.ID, *payload.UserID)
}

func TestGetItemEvents_EndedAuction(t *testing.T) {
	f := setupAPI(t)
	item := f.store.AddItem(models.Item{
		Name:         "lamp",
		CategoryID:   uuid.New(),
		InitialPrice: 100,
		SellerID:     f.seller.ID,
		State:        models.StateCanceled,
		BiddingStart: now.Add(-2 * time.Hour),
		BiddingEnd:   now.Add(-time.Hour),
	})

	w := f.do(t, http.MethodGet, "/items/"+item.ID.String()+"/events", uuid.Nil, nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

// endingStore 在第一次交易前發布商品結束的事件，模擬查詢狀態時競標剛好結束
type endingStore struct {
	*memstore.Store
	hub   *sse.Hub[models.AuctionEvent]
	event models.AuctionEvent
	once  sync.Once
}

func (s *endingStore) Transaction(ctx context.Context, fn func(tx ports.Repositories) error) error {
	s.once.Do(func() { _ = s.hub.Publish(s.event) })
	return s.Store.Transaction(ctx, fn)
}

func TestGetItemEvents_EndsDuringStateCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memstore.New()
	hub := sse.NewHub(func(event models.AuctionEvent) string { return event.ItemID.String() })
	hub.Start()
	t.Cleanup(hub.Close)

	seller := store.AddUser(models.User{Username: "seller"})
	item := store.AddItem(models.Item{
		Name:         "lamp",
		CategoryID:   uuid.New(),
		InitialPrice: 100,
		SellerID:     seller.ID,
		State:        models.StateActive,
		BiddingStart: now.Add(-time.Hour),
		BiddingEnd:   now.Add(time.Hour),
	})
	ending := &endingStore{
		Store: store,
		hub:   hub,
		event: models.AuctionEvent{
			Kind: models.EventStateChanged, ItemID: item.ID,
			From: models.StateActive, To: models.StateCanceled, At: now,
		},
	}
	impl := newServerImpl(ServerConfig{}, dependencies{
		store:     ending,
		locker:    keylock.New(),
		remover:   ports.NopImageRemover(),
		publisher: hub,
		hub:       hub,
		clock:     timewindow.NewMockClock(now),
	})
	impl.keepAlive = time.Hour
	router := gin.New()
	impl.RegisterHandlers(router)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/items/"+item.ID.String()+"/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.NoError(t, ctx.Err(), "stream should end on the state event")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Regexp(t, `event: ?`+string(models.EventStateChanged), w.Body.String())
}
