package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sibostore/config"
	"sibostore/internal/database"
	"sibostore/internal/queue"
	"sibostore/internal/repository"
	"sibostore/internal/router"
	"sibostore/internal/service"
	"sibostore/internal/ws"
	"sibostore/pkg/cloudinary"
	"sibostore/pkg/payment"

	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}
}

func buildProviders(cfg *config.Config) map[string]payment.Provider {
	providers := map[string]payment.Provider{
		"stub": payment.NewStubProvider(),
	}
	if cfg.Daraja.ConsumerKey != "" {
		providers[payment.ProviderDaraja] = payment.NewDarajaProvider(payment.DarajaConfig{
			BaseURL:          cfg.Daraja.BaseURL,
			ConsumerKey:      cfg.Daraja.ConsumerKey,
			ConsumerSecret:   cfg.Daraja.ConsumerSecret,
			ShortCode:        cfg.Daraja.ShortCode,
			PassKey:          cfg.Daraja.PassKey,
			CallbackURL:      cfg.Daraja.CallbackURL,
			AccountReference: cfg.Daraja.AccountReference,
			BusinessName:     cfg.Payment.BusinessName,
		})
	}
	if cfg.Paystack.SecretKey != "" {
		providers[payment.ProviderPaystack] = payment.NewPaystackProvider(payment.PaystackConfig{
			BaseURL:    cfg.Paystack.BaseURL,
			SecretKey:  cfg.Paystack.SecretKey,
			PayerEmail: cfg.Paystack.PayerEmail,
		})
	}
	if _, ok := providers[cfg.Payment.DefaultProvider]; !ok {
		log.Fatalf("default provider %q has no credentials configured", cfg.Payment.DefaultProvider)
	}
	return providers
}

func main() {
	cfg := config.Load()
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var images cloudinary.Client
	if cfg.Cloudinary.CloudName != "" {
		images, err = cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
		if err != nil {
			log.Fatalf("cloudinary: %v", err)
		}
	}

	hub := ws.NewHub()
	bus := queue.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), bus, hub)

	engine := router.Setup(router.Deps{
		DB:           db,
		Cfg:          cfg,
		Providers:    buildProviders(cfg),
		Hub:          hub,
		Notification: notifications,
		Images:       images,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	notifications.Close()
	if err := bus.Close(); err != nil {
		log.Printf("kafka close: %v", err)
	}
	fmt.Println("server stopped")
}
