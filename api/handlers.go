package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/core/ports"
	"bidlot/models"
)

// HeaderUserID 由上游閘道驗證身分後帶入
const HeaderUserID = "X-User-ID"

const callerKey = "callerID"

// RegisterHandlers 註冊所有路由
func (impl *ServerImpl) RegisterHandlers(router *gin.Engine) {
	router.Use(impl.metrics.Middleware())
	router.GET("/metrics", gin.WrapH(impl.metrics.Handler()))

	router.GET("/items", impl.GetItems)
	router.GET("/items/:itemID", impl.GetItem)
	router.GET("/items/:itemID/events", impl.GetItemEvents)
	authorized := router.Group("/", impl.requireCaller)
	authorized.POST("/admin/sweep", impl.PostSweep)
	authorized.POST("/admin/items/:itemID/reconcile", impl.PostReconcile)
	authorized.POST("/items", impl.PostItem)
	authorized.PATCH("/items/:itemID", impl.PatchItem)
	authorized.PUT("/items/:itemID/pickup-place", impl.PutPickupPlace)
	authorized.DELETE("/items/:itemID/pickup-place", impl.DeletePickupPlace)
	authorized.POST("/items/:itemID/bids", impl.PostBid)
	authorized.GET("/users/:userID/credit", impl.GetCredit)
	authorized.POST("/users/:userID/archive", impl.PostArchive)
	authorized.DELETE("/users/:userID", impl.DeleteUser)
}

func (impl *ServerImpl) requireCaller(c *gin.Context) {
	callerID, err := uuid.Parse(c.GetHeader(HeaderUserID))
	if err != nil || callerID == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "Missing or invalid " + HeaderUserID})
		return
	}
	c.Set(callerKey, callerID)
	c.Next()
}

func caller(c *gin.Context) uuid.UUID {
	return c.MustGet(callerKey).(uuid.UUID)
}

// uuidParam 解析路徑參數，格式錯誤時直接回應 400
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body"})
		return false
	}
	return true
}

// respondError 依錯誤分群決定狀態碼，基礎設施錯誤不回傳細節
func (impl *ServerImpl) respondError(c *gin.Context, op string, err error) {
	switch fault.ClassOf(err) {
	case fault.ClassValidation:
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request", Errors: fault.KindsOf(err)})
	case fault.ClassNotFound:
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Not found", Errors: fault.KindsOf(err)})
	case fault.ClassIntegrity:
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Item state conflicts with its bid history", Errors: fault.KindsOf(err)})
	default:
		impl.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}

// Add a new auction item
// (POST /items)
func (impl *ServerImpl) PostItem(c *gin.Context) {
	const op = "PostItem"
	var request CreateItemRequest
	if !bindJSON(c, &request) {
		return
	}
	item, err := impl.lifecycle.Create(c.Request.Context(), request.draft(caller(c)))
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.Header("Location", "/items/"+item.ID.String())
	c.JSON(http.StatusCreated, newItem(item))
}

// List auction items
// (GET /items)
func (impl *ServerImpl) GetItems(c *gin.Context) {
	const op = "GetItems"
	var criteria ports.Criteria
	for param, target := range map[string]**uuid.UUID{
		"seller":   &criteria.SellerID,
		"buyer":    &criteria.BuyerID,
		"bidder":   &criteria.BidderID,
		"category": &criteria.CategoryID,
	} {
		raw, ok := c.GetQuery(param)
		if !ok {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid " + param})
			return
		}
		*target = &id
	}
	for _, raw := range c.QueryArray("state") {
		state := models.ItemState(strings.ToUpper(raw))
		if !state.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid state"})
			return
		}
		criteria.States = append(criteria.States, state)
	}
	criteria.Keywords = c.Query("q")

	items, err := impl.lifecycle.Search(c.Request.Context(), criteria)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	response := make([]Item, len(items))
	for i := range items {
		response[i] = newItem(&items[i])
	}
	c.JSON(http.StatusOK, response)
}

// Get auction item details
// (GET /items/{itemID})
func (impl *ServerImpl) GetItem(c *gin.Context) {
	const op = "GetItem"
	itemID, ok := uuidParam(c, "itemID")
	if !ok {
		return
	}
	item, err := impl.lifecycle.Get(c.Request.Context(), itemID)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItem(item))
}

// requireOwner 確認呼叫者是商品的賣家
func (impl *ServerImpl) requireOwner(c *gin.Context, op string, itemID uuid.UUID) bool {
	item, err := impl.lifecycle.Get(c.Request.Context(), itemID)
	if err != nil {
		impl.respondError(c, op, err)
		return false
	}
	if item.SellerID != caller(c) {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Only the seller can modify this item"})
		return false
	}
	return true
}

// Update an auction item
// (PATCH /items/{itemID})
func (impl *ServerImpl) PatchItem(c *gin.Context) {
	const op = "PatchItem"
	itemID, ok := uuidParam(c, "itemID")
	if !ok {
		return
	}
	var request UpdateItemRequest
	if !bindJSON(c, &request) || !impl.requireOwner(c, op, itemID) {
		return
	}
	item, err := impl.lifecycle.Update(c.Request.Context(), itemID, request.patch())
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItem(item))
}

// Attach a pickup place
// (PUT /items/{itemID}/pickup-place)
func (impl *ServerImpl) PutPickupPlace(c *gin.Context) {
	const op = "PutPickupPlace"
	itemID, ok := uuidParam(c, "itemID")
	if !ok {
		return
	}
	var request PickupPlace
	if !bindJSON(c, &request) || !impl.requireOwner(c, op, itemID) {
		return
	}
	item, err := impl.lifecycle.AttachPickupPlace(c.Request.Context(), itemID, *request.model())
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItem(item))
}

// Detach the pickup place
// (DELETE /items/{itemID}/pickup-place)
func (impl *ServerImpl) DeletePickupPlace(c *gin.Context) {
	const op = "DeletePickupPlace"
	itemID, ok := uuidParam(c, "itemID")
	if !ok || !impl.requireOwner(c, op, itemID) {
		return
	}
	item, err := impl.lifecycle.DetachPickupPlace(c.Request.Context(), itemID)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItem(item))
}

// Place a bid on an auction item
// (POST /items/{itemID}/bids)
func (impl *ServerImpl) PostBid(c *gin.Context) {
	const op = "PostBid"
	itemID, ok := uuidParam(c, "itemID")
	if !ok {
		return
	}
	var request PlaceBidRequest
	if !bindJSON(c, &request) {
		return
	}
	bid, err := impl.bidding.PlaceBid(c.Request.Context(), caller(c), itemID, request.Price)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, newBid(*bid))
}

// requireSelf 確認路徑中的使用者就是呼叫者
func requireSelf(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := uuidParam(c, "userID")
	if !ok {
		return uuid.Nil, false
	}
	if userID != caller(c) {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Cannot access another user"})
		return uuid.Nil, false
	}
	return userID, true
}

// Get available credit
// (GET /users/{userID}/credit)
func (impl *ServerImpl) GetCredit(c *gin.Context) {
	const op = "GetCredit"
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	balance, err := impl.accounts.Balance(c.Request.Context(), userID)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, Credit{UserID: userID, Credit: balance})
}

// Archive a user
// (POST /users/{userID}/archive)
func (impl *ServerImpl) PostArchive(c *gin.Context) {
	const op = "PostArchive"
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	user, err := impl.accounts.Archive(c.Request.Context(), userID)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, User{ID: user.ID, Username: user.Username, Credit: user.Credit, Archived: user.Archived})
}

// Delete a user and everything they own
// (DELETE /users/{userID})
func (impl *ServerImpl) DeleteUser(c *gin.Context) {
	const op = "DeleteUser"
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	if err := impl.accounts.Delete(c.Request.Context(), userID); err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Run a reconciliation sweep now
// (POST /admin/sweep)
func (impl *ServerImpl) PostSweep(c *gin.Context) {
	const op = "PostSweep"
	report, err := impl.lifecycle.Sweep(c.Request.Context(), impl.clock.Now())
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newSweepReport(report))
}

// Reconcile one item now
// (POST /admin/items/{itemID}/reconcile)
func (impl *ServerImpl) PostReconcile(c *gin.Context) {
	const op = "PostReconcile"
	itemID, ok := uuidParam(c, "itemID")
	if !ok {
		return
	}
	item, err := impl.lifecycle.ReconcileItem(c.Request.Context(), itemID)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItem(item))
}

// Track auction item events
// (GET /items/{itemID}/events)
func (impl *ServerImpl) GetItemEvents(c *gin.Context) {
	const op = "GetItemEvents"
	itemID, ok := uuidParam(c, "itemID")
	if !ok {
		return
	}

	// 先訂閱再檢查狀態，檢查之後才發生的結束事件仍會送達
	topic := itemID.String()
	ch, err := impl.hub.Subscribe(topic)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	defer impl.hub.Unsubscribe(topic, ch)

	item, err := impl.lifecycle.Get(c.Request.Context(), itemID)
	if err != nil {
		impl.respondError(c, op, err)
		return
	}
	if item.State.Terminal() {
		c.JSON(http.StatusGone, ErrorResponse{Message: "Auction has ended"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	keepAlive := time.NewTicker(impl.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(event.Kind), newEvent(event))
			w.Flush()
			if event.Kind == models.EventStateChanged && event.To.Terminal() {
				return
			}
		// 一段時間沒有事件就送出註解，避免代理伺服器斷線
		case <-keepAlive.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				impl.logger.Debug("event stream closed", slog.String("op", op), slog.Any("error", err))
				return
			}
			w.Flush()
		}
	}
}
