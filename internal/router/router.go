package router

import (
	"log"
	"time"

	"sibostore/config"
	"sibostore/internal/handler"
	"sibostore/internal/middleware"
	"sibostore/internal/repository"
	"sibostore/internal/service"
	"sibostore/internal/ws"
	"sibostore/pkg/cloudinary"
	"sibostore/pkg/payment"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps carries everything the router wires together.
type Deps struct {
	DB           *gorm.DB
	Cfg          *config.Config
	Providers    map[string]payment.Provider
	Hub          *ws.Hub
	Notification *service.NotificationService
	Images       cloudinary.Client
}

func Setup(d Deps) *gin.Engine {
	if d.Cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.Cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	txRepo := repository.NewTransactionRepository(d.DB)
	orderRepo := repository.NewOrderRepository(d.DB)
	productRepo := repository.NewProductRepository(d.DB)
	auditRepo := repository.NewAuditLogRepository(d.DB)

	reconciler := service.NewReconciler(txRepo, orderRepo, auditRepo, d.Notification, d.Providers)

	paymentHandler := handler.NewPaymentHandler(txRepo, reconciler, d.Providers, auditRepo, d.Cfg)
	webhookHandler := handler.NewMpesaWebhookHandler(reconciler)
	orderHandler := handler.NewOrderHandler(orderRepo, productRepo)
	productHandler := handler.NewProductHandler(productRepo, d.Images)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider-facing endpoints stay unauthenticated and unthrottled;
	// Safaricom gives up on anything that is not a prompt 200.
	mpesa := r.Group("/api/mpesa")
	{
		mpesa.POST("/callback", webhookHandler.Callback)
		mpesa.GET("/validate", webhookHandler.Validate)
	}

	limiter := middleware.NewInMemoryRateLimiter(60, time.Minute)
	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(limiter))
	{
		api.GET("/products", productHandler.List)
		api.GET("/products/:id", productHandler.Get)
		api.GET("/payments/instructions", paymentHandler.Instructions)
		api.GET("/payments/:reference/status", paymentHandler.Status)

		authed := api.Group("")
		authed.Use(middleware.AuthRequired(&d.Cfg.JWT))
		{
			authed.POST("/orders", orderHandler.Create)
			authed.GET("/orders", orderHandler.List)
			authed.GET("/orders/:number", orderHandler.Get)
			authed.POST("/payments/initiate", paymentHandler.Initiate)
		}

		admin := api.Group("")
		admin.Use(middleware.AuthRequired(&d.Cfg.JWT), middleware.RequireRole("ADMIN"))
		{
			admin.POST("/products", productHandler.Create)
		}
	}

	r.GET("/ws/payments", ws.UpgradePaymentWS(d.Hub))

	log.Printf("[ROUTER] routes registered, default provider=%s", d.Cfg.Payment.DefaultProvider)
	return r
}
