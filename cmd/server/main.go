// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"talanoor-go/internal/config"
	"talanoor-go/internal/handler"
	"talanoor-go/internal/middleware"
	"talanoor-go/internal/pipeline"
	"talanoor-go/internal/realtime"
	"talanoor-go/internal/repository"
	"talanoor-go/internal/service"
	"talanoor-go/pkg/database"
	"talanoor-go/pkg/es"
	"talanoor-go/pkg/kafka"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/metrics"
	"talanoor-go/pkg/storage"
	"talanoor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis，其余基础设施按开关启用
	database.InitMySQL(cfg.Database.MySQL.DSN, cfg.Database.MySQL.AutoMigrate)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	var searcher service.MessageSearcher
	var messageIndex *es.MessageIndex
	if cfg.Elasticsearch.Enabled {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败，消息检索不可用: %s", err)
		} else {
			messageIndex = es.NewMessageIndex(cfg.Elasticsearch.IndexName)
			searcher = messageIndex
		}
	}

	var transcripts service.TranscriptUploader
	if cfg.MinIO.Enabled {
		storage.InitMinIO(cfg.MinIO)
		transcripts = storage.NewTranscriptStore(cfg.MinIO)
	}

	var publisher service.IndexPublisher
	if cfg.Kafka.Enabled {
		kafka.InitProducer(cfg.Kafka)
		publisher = kafka.Publisher{}
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	tokenRepo := repository.NewTokenRepository(database.RDB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	blogRepo := repository.NewBlogRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	broker := realtime.NewRedisBroker(database.RDB)
	userService := service.NewUserService(userRepo, tokenRepo, jwtManager)
	chatService := service.NewChatService(conversationRepo, messageRepo, userRepo, broker, publisher)
	adminService := service.NewAdminService(userRepo, conversationRepo, messageRepo, searcher, transcripts)
	blogService := service.NewBlogService(blogRepo, database.RDB, cfg.Blog.CacheTTL)

	// 6. 启动后台 Kafka 消费者，把新消息写入检索索引
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	if cfg.Kafka.Enabled && messageIndex != nil {
		processor := pipeline.NewProcessor(messageIndex)
		go kafka.StartConsumer(bgCtx, cfg.Kafka, processor)
	}

	// 6.1 初始数据：管理员账号与博客文章，已存在则跳过
	seedAdmin(cfg.Admin, userRepo)
	go watchBlogCache(bgCtx, blogService)
	go seedBlogPosts(bgCtx, cfg.Blog.SeedDir, blogRepo, blogService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	userHandler := handler.NewUserHandler(userService)
	chatHandler := handler.NewChatHandler(chatService)
	adminHandler := handler.NewAdminHandler(adminService, chatService)
	blogHandler := handler.NewBlogHandler(blogService)
	authRequired := middleware.AuthMiddleware(jwtManager, userService)
	guestLimit := middleware.GuestRateLimit(database.RDB, cfg.Chat.GuestRateLimit)

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(authRequired)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// 游客对话：凭 X-Guest-Token 访问，创建类接口限流
		guest := apiV1.Group("/chats/guest")
		{
			guest.POST("", guestLimit, chatHandler.CreateGuestChat)
			guest.POST("/resolve", guestLimit, chatHandler.ResolveGuestChat)
			guest.GET("/:chatId", chatHandler.GetGuestChat)
			guest.GET("/:chatId/messages", chatHandler.ListGuestMessages)
			guest.POST("/:chatId/messages", guestLimit, chatHandler.PostGuestMessage)
		}

		chats := apiV1.Group("/chats")
		chats.Use(authRequired)
		{
			chats.GET("", chatHandler.ListChats)
			chats.POST("", chatHandler.CreateChat)
			chats.POST("/resolve", chatHandler.ResolveChat)
			chats.GET("/:chatId/messages", chatHandler.ListMessages)
			chats.POST("/:chatId/messages", chatHandler.PostMessage)
		}

		blog := apiV1.Group("/blog")
		{
			blog.GET("/posts", blogHandler.ListPosts)
			blog.GET("/posts/:slug", blogHandler.GetPost)
		}

		// 只需登录即可查询自己是否为管理员
		apiV1.GET("/admin/check-status", authRequired, adminHandler.CheckStatus)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(authRequired, middleware.AdminAuthMiddleware())
		{
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.GET("/chats", adminHandler.ListConversations)
			admin.GET("/chats/search", adminHandler.SearchMessages)
			admin.GET("/chats/:chatId", adminHandler.GetConversation)
			admin.PATCH("/chats/:chatId", adminHandler.UpdateStatus)
			admin.POST("/chats/:chatId/messages", adminHandler.PostMessage)
			admin.POST("/chats/:chatId/transcript", adminHandler.ExportTranscript)
			admin.POST("/blog/cache/invalidate", blogHandler.InvalidateCache)
			admin.POST("/blog/posts/:slug/refresh", blogHandler.RefreshPost)
		}
	}

	// 实时推送 (WebSocket)，鉴权通过查询参数完成
	r.GET("/ws/chats/:chatId", handler.NewStreamHandler(chatService, userService, jwtManager, broker).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者并刷新生产者缓冲
	cancelBg()
	if err := kafka.Close(); err != nil {
		log.Warnf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// watchBlogCache 把博客缓存的失效通知记录到日志和指标，多实例部署时可以据此确认失效已广播。
func watchBlogCache(ctx context.Context, blogService service.BlogService) {
	events, stop, err := blogService.Changes(ctx)
	if err != nil {
		log.Warnf("订阅博客缓存通知失败: %v", err)
		return
	}
	defer stop()
	for ev := range events {
		kind, key, _ := strings.Cut(ev, ":")
		metrics.BlogCacheEventsTotal.WithLabelValues(kind).Inc()
		log.Infow("博客缓存已更新", "cache", kind, "key", key)
	}
}
