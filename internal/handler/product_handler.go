package handler

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"sibostore/internal/models"
	"sibostore/internal/repository"
	"sibostore/pkg/cloudinary"

	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	products *repository.ProductRepository
	images   cloudinary.Client
}

func NewProductHandler(products *repository.ProductRepository, images cloudinary.Client) *ProductHandler {
	return &ProductHandler{products: products, images: images}
}

// List returns the catalog, optionally filtered with ?category=.
func (h *ProductHandler) List(c *gin.Context) {
	products, err := h.products.List(c.Query("category"))
	if err != nil {
		log.Printf("[PRODUCT] list: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *ProductHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	product, err := h.products.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	c.JSON(http.StatusOK, product)
}

// Create adds a catalog product from a multipart form. An optional image
// file is uploaded to Cloudinary before the row is written.
func (h *ProductHandler) Create(c *gin.Context) {
	name := c.PostForm("name")
	priceKES, err := strconv.ParseInt(c.PostForm("price_kes"), 10, 64)
	if name == "" || err != nil || priceKES < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and price_kes are required"})
		return
	}

	product := &models.Product{
		Name:        name,
		Description: c.PostForm("description"),
		Category:    c.PostForm("category"),
		PriceCents:  priceKES * 100,
		Currency:    "KES",
		InStock:     c.DefaultPostForm("in_stock", "true") == "true",
	}

	if file, err := c.FormFile("image"); err == nil {
		if h.images == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image uploads are not configured"})
			return
		}
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image"})
			return
		}
		defer src.Close()
		publicID := fmt.Sprintf("product_%d", time.Now().UnixNano())
		url, thumb, err := h.images.UploadImage(c.Request.Context(), src, "products", publicID)
		if err != nil {
			log.Printf("[PRODUCT] image upload: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		product.ImageURL = url
		product.ThumbnailURL = thumb
	}

	if err := h.products.Create(product); err != nil {
		log.Printf("[PRODUCT] create: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create product"})
		return
	}
	c.JSON(http.StatusCreated, product)
}
