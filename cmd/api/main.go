package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/config"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/db"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/events"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/handlers"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/logger"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/middleware"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/realtime"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/repository"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/services/chat"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/services/deal"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	gdb, err := db.Connect(cfg.DBDSN, zl)
	if err != nil {
		zl.Fatal("database connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		zl.Fatal("database migrate", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, zl)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// notifications are best-effort
		zl.Warn("redis not reachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	notifier := realtime.NewRedisNotifier(rdb, zl)

	var publisher events.Publisher = events.Nop{}
	flushed := make(chan struct{})
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, zl)
		go func() {
			kp.Run(ctx)
			close(flushed)
		}()
		publisher = kp
		zl.Info("kafka events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		close(flushed)
	}

	gateway := realtime.NewGateway(zl)
	repo := repository.NewChatRepository(gdb, zl)
	chatSvc := chat.NewChatService(repo, gateway, notifier, publisher, zl, cfg.DBTimeout)
	dealSvc := deal.NewDealService(repo, gateway, publisher, zl, cfg.DBTimeout)

	app := fiber.New(fiber.Config{
		AppName:      "nearswap",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(zl))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.ClientOrigin,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: cfg.ClientOrigin != "*",
	}))
	app.Use(middleware.NewIPRateLimiter(cfg.HTTPRatePerMin).Handler())

	router := &handlers.Router{
		JWTSecret: cfg.JWTSecret,
		Auth: &handlers.AuthHandler{
			DB:        gdb,
			JWTSecret: cfg.JWTSecret,
			Expires:   cfg.JWTExpiresMin,
			Timeout:   cfg.DBTimeout,
			Log:       zl,
		},
		Listings: handlers.NewListingHandler(gdb, zl, cfg.DBTimeout),
		Chat:     handlers.NewChatHandler(chatSvc, zl),
		Deals:    handlers.NewDealHandler(dealSvc, zl),
		WS: &handlers.WSHandler{
			Chat:         chatSvc,
			Gateway:      gateway,
			Log:          zl,
			SendRate:     cfg.WSSendRate,
			SendBurst:    cfg.WSSendBurst,
			PingInterval: cfg.WSPingInterval,
			WriteTimeout: cfg.WSWriteTimeout,
		},
		Health: &handlers.HealthHandler{Store: repo, Redis: rdb, Gateway: gateway},
	}
	router.Mount(app)

	go func() {
		<-ctx.Done()
		zl.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zl.Warn("shutdown", zap.Error(err))
		}
	}()

	zl.Info("listening", zap.String("port", cfg.AppPort))
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		zl.Fatal("listen", zap.Error(err))
	}
	<-flushed
}
