package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"realtime-service/backend/config"
	"realtime-service/backend/internal/broadcast"
	"realtime-service/backend/internal/broker"
	"realtime-service/backend/internal/cache"
	"realtime-service/backend/internal/handler"
	"realtime-service/backend/internal/httpapi/middleware"
	"realtime-service/backend/internal/logx"
	"realtime-service/backend/internal/mysqldb"
	"realtime-service/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init config failed: %v\n", err)
		os.Exit(1)
	}
	log := logx.New(logx.Config{Level: cfg.Log.Level, Console: cfg.Log.Console})
	log.Info().Str("config", cfg.String()).Msg("starting realtime service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("realtime service stopped")
		os.Exit(1)
	}
	log.Info().Msg("realtime service stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// 缓存、发布、订阅各用一条连接：订阅连接进入 subscribe 模式后不能再执行普通命令
	cacheRdb := broker.NewClient(cfg.Redis)
	defer cacheRdb.Close()
	if err := broker.Ping(ctx, cacheRdb); err != nil {
		// broker 不可达时照常启动：缓存降级为未命中，广播失败只记日志
		log.Warn().Err(err).Str("redis", cfg.Redis.Addr()).Msg("redis unreachable at startup")
	}

	var store cache.Store
	switch cfg.Cache.Driver {
	case "memory":
		store = cache.NewMemoryStore(cache.MemoryOptions{Capacity: cfg.Cache.Capacity})
	default:
		store = cache.NewRedisStore(cacheRdb)
	}
	cacheSvc := cache.NewService(store, logx.Component(log, "cache"), cache.Options{SingleFlight: cfg.Cache.SingleFlight})
	// 进程实例 ID：在线状态按进程登记，避免一个进程下线时误删其他进程上的用户
	instanceID := uuid.NewString()
	presence := cache.NewRedisPresence(cacheRdb, instanceID)
	log.Info().Str("instance", instanceID).Msg("presence instance registered")

	pub := broadcast.NewPublisher(broker.NewClient(cfg.Redis), logx.Component(log, "publisher"))
	defer pub.Close()

	hub := ws.NewHub(logx.Component(log, "hub"))
	manager := ws.NewManager(hub, pub, presence, ws.Options{
		SendBuffer:     cfg.Gateway.SendBuffer,
		RateLimit:      cfg.Gateway.RateLimit,
		RateBurst:      cfg.Gateway.RateBurst,
		PresenceTTL:    cfg.Gateway.PresenceTTL,
		AllowedOrigins: cfg.AllowedOrigins(),
	}, logx.Component(log, "gateway"))

	sub := broadcast.NewSubscriber(broker.NewClient(cfg.Redis), hub, logx.Component(log, "subscriber"))
	if err := sub.Start(ctx); err != nil {
		// 订阅会在后台重连；恢复之前本进程只能收到本地事件
		log.Warn().Err(err).Msg("broadcast subscriber waiting for broker")
	}
	defer sub.Close()

	if cfg.Running.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog(logx.Component(log, "http")))
	// cors.New 在来源列表为空时会 panic；未配置来源就不挂 CORS
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-Id", "X-Username"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		log.Warn().Str("env", cfg.Running.Env).Msg("no CORS origins configured")
	}

	auth := middleware.Auth(cfg.Auth.Path, logx.Component(log, "auth"))
	router.GET(cfg.Socket.Path, auth, manager.WebSocketConnect)
	router.GET("/healthz", func(c *gin.Context) {
		status := "ok"
		if err := broker.Ping(c.Request.Context(), cacheRdb); err != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"message": status, "connections": hub.ConnCount()})
	})

	if cfg.Mysql.DSN != "" {
		db, err := mysqldb.Open(cfg.Mysql.DSN)
		if err != nil {
			log.Error().Err(err).Msg("mysql unavailable, /api routes disabled")
		} else {
			repo := mysqldb.NewMySQLRepo(db)
			h := handler.New(handler.Deps{
				Posts:    repo,
				Comments: repo,
				Likes:    repo,
				Users:    repo,
				Cache:    cacheSvc,
				Pub:      pub,
				Log:      logx.Component(log, "api"),
			})
			api := router.Group("/api")
			api.Use(auth)
			h.Register(api, middleware.RequireUser())
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("socket", cfg.Socket.Path).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.CloseAll()
	return srv.Shutdown(shutdownCtx)
}
