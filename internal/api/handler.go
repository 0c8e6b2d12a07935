package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/checkout"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Store is the slice of the document store the HTTP layer touches directly;
// everything payment-related goes through the checkout components instead.
type Store interface {
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	GetCartItems(ctx context.Context, userID string) ([]models.CartItem, error)
	UpsertCartItem(ctx context.Context, item *models.CartItem) error
	DeleteCartItem(ctx context.Context, userID, itemKey string) error
	GetPaidProductsByUserID(ctx context.Context, userID string) ([]models.PaidProduct, error)
	UpdateOrderDeliveryStatus(ctx context.Context, orderID, status string) error
	UpdatePaidProductDelivery(ctx context.Context, orderID, status string) error
}

// Handler contains HTTP handlers
type Handler struct {
	initiator *checkout.Initiator
	sessions  *checkout.SessionManager
	store     Store
}

// NewHandler creates a new HTTP handler
func NewHandler(initiator *checkout.Initiator, sessions *checkout.SessionManager, store Store) *Handler {
	return &Handler{
		initiator: initiator,
		sessions:  sessions,
		store:     store,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.initiateCheckout)
		v1.POST("/checkout/:orderId/navigation", h.reportNavigation)
		v1.POST("/checkout/:orderId/cancel", h.cancelCheckout)
		v1.GET("/checkout/:orderId/result", h.awaitResult)
		v1.GET("/checkout/:orderId/status", h.checkoutStatus)
		v1.POST("/checkout/:orderId/dismiss", h.dismissCheckout)

		v1.POST("/cart/:userId/items", h.addCartItem)
		v1.GET("/cart/:userId", h.getCart)
		v1.DELETE("/cart/:userId/items/:key", h.removeCartItem)

		v1.GET("/orders/:orderId", h.getOrder)
		v1.GET("/users/:userId/purchases", h.getPurchases)
		v1.POST("/orders/:orderId/delivery", h.updateDelivery)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"sessions": h.sessions.ActiveSessions(),
		"time":     time.Now().Unix(),
	})
}

// initiateCheckout opens a transaction with the gateway and starts the
// session that races the confirmation signals.
func (h *Handler) initiateCheckout(c *gin.Context) {
	var req checkout.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.initiator.Initiate(c.Request.Context(), &req)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}

	session, err := h.sessions.StartSession(result.Order)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "Checkout already in progress for this order",
			"order_id": result.Order.OrderID,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":     result.Order.OrderID,
		"tx_id":        result.Order.TxID,
		"checkout_url": result.CheckoutURL,
		"amount":       result.Order.TxAmount.StringFixed(2),
		"state":        session.State(),
	})
}

type navigationRequest struct {
	URL string `json:"url" binding:"required"`
}

// reportNavigation receives an embedded-browser page load for classification.
func (h *Handler) reportNavigation(c *gin.Context) {
	var req navigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	session, err := h.sessions.GetSession(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active checkout for this order"})
		return
	}

	session.ObserveNavigation(c.Request.Context(), req.URL)
	c.JSON(http.StatusOK, gin.H{"state": session.State()})
}

// cancelCheckout records the user backing out of the embedded browser.
func (h *Handler) cancelCheckout(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active checkout for this order"})
		return
	}

	session.Cancel(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"state": session.State()})
}

// awaitResult blocks until the checkout resolves or the request context ends.
func (h *Handler) awaitResult(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active checkout for this order"})
		return
	}

	res, ok := session.WaitResult(c.Request.Context())
	if !ok {
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "Checkout still unresolved"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":  session.Order.OrderID,
		"state":     session.State(),
		"outcome":   string(res.Outcome),
		"source":    string(res.Source),
		"tx_status": res.TxStatus,
		"reason":    res.Reason,
	})
}

// checkoutStatus reads the session state without blocking, falling back to
// the stored order once the session is gone.
func (h *Handler) checkoutStatus(c *gin.Context) {
	orderID := c.Param("orderId")

	if session, err := h.sessions.GetSession(orderID); err == nil {
		body := gin.H{"order_id": orderID, "state": session.State()}
		if res, resolved := session.Resolution(); resolved {
			body["outcome"] = string(res.Outcome)
			body["source"] = string(res.Source)
		}
		c.JSON(http.StatusOK, body)
		return
	}

	order, err := h.store.GetOrderByID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	state := checkout.StateAwaiting
	switch order.Status {
	case models.OrderStatusPaid:
		state = checkout.StateSucceeded
	case models.OrderStatusFailed:
		state = checkout.StateFailed
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":     orderID,
		"state":        state,
		"order_status": order.Status,
	})
}

// dismissCheckout releases the session after the user leaves the result
// screen; a failed order's document is removed here.
func (h *Handler) dismissCheckout(c *gin.Context) {
	res, err := h.sessions.Dismiss(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active checkout for this order"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to dismiss checkout",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": c.Param("orderId"),
		"outcome":  string(res.Outcome),
	})
}

type cartItemRequest struct {
	ProductID   string `json:"product_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Color       string `json:"color"`
	Size        string `json:"size"`
	Measurement string `json:"measurement"`
	Qty         int    `json:"qty"`
	UnitAmount  string `json:"unit_amount" binding:"required"`
	ImageRef    string `json:"image_ref"`
}

// addCartItem adds a product variant to the cart, merging quantity when the
// same variant is added again.
func (h *Handler) addCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Qty <= 0 {
		req.Qty = 1
	}
	amount, err := decimal.NewFromString(req.UnitAmount)
	if err != nil || amount.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid unit amount"})
		return
	}

	key := models.VariantKey{
		ProductID:   req.ProductID,
		Color:       req.Color,
		Size:        req.Size,
		Measurement: req.Measurement,
	}
	item := &models.CartItem{
		UserID:      c.Param("userId"),
		ItemKey:     key.Key(),
		ProductID:   req.ProductID,
		Name:        req.Name,
		Color:       req.Color,
		Size:        req.Size,
		Measurement: req.Measurement,
		Qty:         req.Qty,
		UnitAmount:  amount,
		ImageRef:    req.ImageRef,
	}

	if err := h.store.UpsertCartItem(c.Request.Context(), item); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to add cart item",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, item)
}

// getCart lists the user's cart with a running total.
func (h *Handler) getCart(c *gin.Context) {
	items, err := h.store.GetCartItems(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read cart",
			"details": err.Error(),
		})
		return
	}
	if items == nil {
		items = []models.CartItem{}
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitAmount.Mul(decimal.NewFromInt(int64(item.Qty))))
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": total.StringFixed(2),
	})
}

// removeCartItem deletes one cart line by its variant key.
func (h *Handler) removeCartItem(c *gin.Context) {
	err := h.store.DeleteCartItem(c.Request.Context(), c.Param("userId"), c.Param("key"))
	if err != nil {
		if errors.Is(err, models.ErrCartItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to remove cart item",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.store.GetOrderByID(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, order)
}

// getPurchases lists a user's purchase ledger.
func (h *Handler) getPurchases(c *gin.Context) {
	purchases, err := h.store.GetPaidProductsByUserID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read purchases",
			"details": err.Error(),
		})
		return
	}
	if purchases == nil {
		purchases = []models.PaidProduct{}
	}

	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

type deliveryRequest struct {
	Status string `json:"status"`
}

// updateDelivery moves a paid order's shipment state; the shopper confirming
// receipt is the usual caller.
func (h *Handler) updateDelivery(c *gin.Context) {
	// The body is optional; confirming receipt sends none.
	var req deliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Status == "" {
		req.Status = models.DeliveryCompleted
	}
	if !models.ValidDeliveryStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown delivery status"})
		return
	}

	orderID := c.Param("orderId")
	if err := h.store.UpdateOrderDeliveryStatus(c.Request.Context(), orderID, req.Status); err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to update delivery status",
			"details": err.Error(),
		})
		return
	}
	if err := h.store.UpdatePaidProductDelivery(c.Request.Context(), orderID, req.Status); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to update ledger delivery status",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":        orderID,
		"delivery_status": req.Status,
	})
}

// respondCheckoutError maps initiation failures onto HTTP statuses: bad input
// is the client's fault, a gateway turn-down is an upstream failure.
func respondCheckoutError(c *gin.Context, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		return
	}
	var ierr *models.InitiationError
	if errors.As(err, &ierr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": ierr.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Failed to initiate checkout",
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
