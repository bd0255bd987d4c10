package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitfantasy/nimo-srm/internal/config"
	"github.com/bitfantasy/nimo-srm/internal/middleware"
	"github.com/bitfantasy/nimo-srm/internal/shared/mailer"
	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/handler"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
	"github.com/bitfantasy/nimo-srm/internal/srm/service"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-srm service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to init database", zap.Error(err))
	}

	// AutoMigrate SRM实体
	if err := db.AutoMigrate(
		&entity.Approver{},
		&entity.WorkflowTemplate{},
		&entity.ApprovalStepDef{},
		&entity.ApprovalRun{},
		&entity.ApprovalStep{},
		&entity.BRFQ{},
		&entity.RFQSupplier{},
		&entity.Supplier{},
		&entity.FieldRule{},
		&entity.ModificationPolicy{},
		&entity.ModificationRequest{},
		&entity.ActivityLog{},
	); err != nil {
		zapLogger.Warn("AutoMigrate SRM tables warning", zap.Error(err))
	}

	// 初始化Redis（模板缓存，连接失败时服务降级为直接读库）
	rdb := initRedis(cfg.Redis)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		zapLogger.Warn("Redis unavailable, template cache disabled", zap.Error(err))
		rdb = nil
	}

	// 邮件网关客户端
	sender := mailer.NewClient(cfg.Mailer.BaseURL, cfg.Mailer.APIKey, cfg.Mailer.FromName, cfg.Mailer.FromEmail)

	// 初始化仓库、服务、处理器
	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, rdb, sender, cfg, zapLogger)
	handlers := handler.NewHandlers(services)

	// SLA提醒定时任务
	var scheduler *cron.Cron
	if cfg.Reminder.Enabled {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Reminder.Cron, func() {
			sent, err := services.Reminder.RunOnce(context.Background())
			if err != nil {
				zapLogger.Warn("SLA reminder sweep failed", zap.Error(err))
				return
			}
			if sent > 0 {
				zapLogger.Info("SLA reminders sent", zap.Int("count", sent))
			}
		})
		if err != nil {
			zapLogger.Fatal("Failed to schedule SLA reminder job", zap.Error(err))
		}
		scheduler.Start()
		zapLogger.Info("SLA reminder job scheduled", zap.String("cron", cfg.Reminder.Cron))
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": Version})
	})

	v1 := r.Group("/api/v1")
	authorized := v1.Group("")
	authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
	srm := authorized.Group("/srm")
	{
		approvers := srm.Group("/approvers")
		{
			approvers.GET("", h.Approver.List)
			approvers.GET("/:id", h.Approver.Get)
			approvers.POST("", h.Approver.Create)
			approvers.PUT("/:id", h.Approver.Update)
			approvers.DELETE("/:id", h.Approver.Delete)
		}

		srm.GET("/workflow-template", h.Workflow.Get)
		srm.PUT("/workflow-template", h.Workflow.Save)

		brfqs := srm.Group("/brfqs")
		{
			brfqs.GET("", h.BRFQ.List)
			brfqs.GET("/export", h.BRFQ.Export)
			brfqs.GET("/:id", h.BRFQ.Get)
			brfqs.POST("", h.BRFQ.Create)
			brfqs.PUT("/:id", h.BRFQ.Update)
			brfqs.POST("/:id/submit", h.BRFQ.Submit)
			brfqs.GET("/:id/approval", h.BRFQ.GetApproval)
			brfqs.POST("/:id/edits", h.Modification.ProposeEdit)
		}

		runs := srm.Group("/approval-runs")
		{
			runs.GET("", h.Approval.List)
			runs.GET("/my-pending", h.Approval.MyPending)
			runs.GET("/:id", h.Approval.Get)
			runs.POST("/:id/withdraw", h.Approval.Withdraw)
		}
		srm.POST("/approval-steps/:id/decide", h.Approval.Decide)

		srm.GET("/modification-rules", h.Modification.GetRules)
		srm.PUT("/modification-rules", h.Modification.SaveRules)
		mods := srm.Group("/modification-requests")
		{
			mods.GET("", h.Modification.List)
			mods.GET("/:id", h.Modification.Get)
			mods.POST("/:id/decide", h.Modification.Decide)
		}

		suppliers := srm.Group("/suppliers")
		{
			suppliers.GET("", h.Supplier.List)
			suppliers.GET("/:id", h.Supplier.Get)
			suppliers.POST("", h.Supplier.Create)
			suppliers.PUT("/:id", h.Supplier.Update)
		}
	}
}
