package handler

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"sibostore/internal/middleware"
	"sibostore/internal/models"
	"sibostore/internal/repository"
	"sibostore/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type OrderHandler struct {
	orders   *repository.OrderRepository
	products *repository.ProductRepository
}

func NewOrderHandler(orders *repository.OrderRepository, products *repository.ProductRepository) *OrderHandler {
	return &OrderHandler{orders: orders, products: products}
}

type createOrderRequest struct {
	CustomerName  string `json:"customer_name" binding:"required"`
	CustomerPhone string `json:"customer_phone" binding:"required"`
	Items         []struct {
		ProductID uint `json:"product_id" binding:"required"`
		Quantity  int  `json:"quantity" binding:"required,min=1"`
	} `json:"items" binding:"required,min=1,dive"`
}

// Create places an order. Line prices and the total are read from the
// catalog, never from the request.
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer_name, customer_phone and items are required"})
		return
	}

	phone, err := payment.NormalizePhone(req.CustomerPhone)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number, use format 07XXXXXXXX or 2547XXXXXXXX"})
		return
	}

	order := &models.Order{
		OrderNumber:   "SIBO-" + strings.ToUpper(uuid.New().String()[:8]),
		CustomerEmail: middleware.GetEmail(c),
		CustomerName:  req.CustomerName,
		CustomerPhone: phone,
		Currency:      "KES",
		Status:        models.OrderStatusPendingPayment,
	}
	for _, item := range req.Items {
		product, err := h.products.GetByID(item.ProductID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown product %d", item.ProductID)})
			return
		}
		if !product.InStock {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("%s is out of stock", product.Name)})
			return
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID:  product.ID,
			Quantity:   item.Quantity,
			PriceCents: product.PriceCents,
		})
		order.TotalCents += product.PriceCents * int64(item.Quantity)
	}

	if err := h.orders.Create(order); err != nil {
		log.Printf("[ORDER] create: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}
	c.JSON(http.StatusCreated, order)
}

// Get returns one order by its order number.
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.orders.GetByNumber(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// List returns the authenticated customer's orders, newest first.
func (h *OrderHandler) List(c *gin.Context) {
	email := middleware.GetEmail(c)
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	orders, err := h.orders.ListByCustomer(email)
	if err != nil {
		log.Printf("[ORDER] list %s: %v", email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
