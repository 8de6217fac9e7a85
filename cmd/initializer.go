package main

import (
	"database/sql"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/redis/go-redis/v9"

	"sokoBack/internal/config"
	"sokoBack/internal/handlers"
	"sokoBack/internal/repositories"
	"sokoBack/internal/services"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	cfg      config.Config

	subscriptionRepo *repositories.SubscriptionRepository
	paymentOrderRepo *repositories.PaymentOrderRepository
	productRepo      *repositories.ProductRepository
	userRepo         *repositories.UserRepository

	pesapalService      *services.PesapalService
	callbackService     *services.PaymentCallbackService
	subscriptionService *services.SubscriptionService
	mailer              *services.MailerService

	paymentHandler      *handlers.PaymentHandler
	subscriptionHandler *handlers.SubscriptionHandler

	db *sql.DB
}

func initializeApp(cfg config.Config, db *sql.DB, rdb *redis.Client, errorLog, infoLog *log.Logger) (*application, error) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Repositories
	subscriptionRepo := &repositories.SubscriptionRepository{DB: db}
	paymentOrderRepo := repositories.NewPaymentOrderRepository(db)
	productRepo := &repositories.ProductRepository{DB: db}
	userRepo := &repositories.UserRepository{DB: db}

	// Token cache: Redis when configured, in-process otherwise.
	var tokenCache services.TokenCache
	if rdb != nil {
		tokenCache = services.NewRedisTokenCache(rdb, "")
	} else {
		tokenCache = services.NewMemoryTokenCache()
	}

	// Services
	pesapalService, err := services.NewPesapalService(services.PesapalConfig{
		ConsumerKey:        cfg.Pesapal.ConsumerKey,
		ConsumerSecret:     cfg.Pesapal.ConsumerSecret,
		Sandbox:            cfg.Pesapal.Sandbox,
		Currency:           cfg.Pesapal.Currency,
		CallbackURL:        joinURL(cfg.App.BaseURL, "/payment/redirect"),
		NotificationID:     cfg.Pesapal.NotificationID,
		InsecureSkipVerify: cfg.Pesapal.InsecureSkipVerify,
		Cache:              tokenCache,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	mailer := &services.MailerService{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Logger:   logger,
	}

	callbackService := &services.PaymentCallbackService{
		Gateway: pesapalService,
		Logger:  logger,
	}

	subscriptionService := &services.SubscriptionService{
		SubscriptionRepo:    subscriptionRepo,
		PaymentOrderRepo:    paymentOrderRepo,
		ProductRepo:         productRepo,
		UserRepo:            userRepo,
		Gateway:             pesapalService,
		Notifier:            mailer,
		Logger:              logger,
		ReminderRepeatShort: time.Duration(cfg.Reminders.RepeatShortMinutes) * time.Minute,
		ReminderRepeatLong:  time.Duration(cfg.Reminders.RepeatLongHours) * time.Hour,
	}

	// Handlers
	paymentHandler := &handlers.PaymentHandler{
		Gateway:       pesapalService,
		Callbacks:     callbackService,
		Subscriptions: subscriptionService,
		Logger:        logger,
	}
	subscriptionHandler := &handlers.SubscriptionHandler{Service: subscriptionService}

	return &application{
		errorLog:            errorLog,
		infoLog:             infoLog,
		cfg:                 cfg,
		subscriptionRepo:    subscriptionRepo,
		paymentOrderRepo:    paymentOrderRepo,
		productRepo:         productRepo,
		userRepo:            userRepo,
		pesapalService:      pesapalService,
		callbackService:     callbackService,
		subscriptionService: subscriptionService,
		mailer:              mailer,
		paymentHandler:      paymentHandler,
		subscriptionHandler: subscriptionHandler,
		db:                  db,
	}, nil
}

func joinURL(base, p string) string {
	if base == "" {
		return p
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + p
	}
	u.Path = path.Join(u.Path, p)
	return u.String()
}
