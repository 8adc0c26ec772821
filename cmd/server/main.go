package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/SlpAus/contest-vote-engine/api"
	"github.com/SlpAus/contest-vote-engine/internal/platform/config"
	"github.com/SlpAus/contest-vote-engine/internal/platform/database"
	"github.com/SlpAus/contest-vote-engine/internal/platform/health"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/internal/platform/metrics"
	"github.com/SlpAus/contest-vote-engine/internal/platform/shutdown"
	"github.com/SlpAus/contest-vote-engine/internal/platform/startup"
	"github.com/SlpAus/contest-vote-engine/internal/store"
	"github.com/SlpAus/contest-vote-engine/pkg/lifecycle"
	"github.com/SlpAus/contest-vote-engine/pkg/token"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func loadConfig() (*config.Config, error) {
	v := config.New()

	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	configFile := fs.StringP("config", "c", "", "配置文件路径 (默认在 ./config 和 . 中查找 config.yaml)")
	fs.String("address", "", "HTTP监听地址，例如 :8080")
	fs.String("log-level", "", "日志级别 (debug, info, warn, error)")
	fs.String("dialect", "", "数据库类型 (sqlite, postgres)")
	fs.String("dsn", "", "数据库连接串")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	bindings := map[string]string{
		"server.address":   "address",
		"log.level":        "log-level",
		"database.dialect": "dialect",
		"database.dsn":     "dsn",
	}
	for key, flag := range bindings {
		if err := bindFlag(v, key, fs.Lookup(flag)); err != nil {
			return nil, err
		}
	}
	if *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	return config.Load(v)
}

// bindFlag 只在命令行显式指定时才让flag覆盖配置文件和环境变量
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) error {
	if flag == nil || !flag.Changed {
		return nil
	}
	return v.BindPFlag(key, flag)
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logging.BootstrapLogger(cfg.Log.Level)
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	ctx := context.Background()
	database.InitDB(cfg.Database)
	database.InitRedis(ctx, cfg.Database.Redis)

	ms := metrics.NewMetricService()
	module := store.NewModule(database.DB, database.RDB, ms)

	// 1. 阻塞式获取初始Run ID
	checker := health.NewChecker(database.RDB, startup.RebuildCache(module))
	checker.InitializeRunID(ctx)

	// 2. 执行应用首次启动初始化流程
	if err := startup.InitializeApplication(ctx, module); err != nil {
		logging.Log.Fatalf("应用初始化失败，无法启动: %v", err)
	}

	// 3. 阻塞式执行一次启动后健康检查
	logging.Log.Info("正在执行启动后健康检查...")
	checker.PerformCheck(ctx)

	// 4. 异步启动后台的持续健康检查器
	gracefulManager := lifecycle.NewManager()
	forcefulManager := lifecycle.NewManager()
	checkerHandle, err := gracefulManager.NewServiceHandle("redis-health-checker")
	if err != nil {
		logging.Log.Fatalf("无法注册健康检查器: %v", err)
	}
	go checker.Run(checkerHandle)

	signer, err := token.NewSigner(cfg.Server.VoterTokenSecret)
	if err != nil {
		logging.Log.Fatalf("无法初始化投票者令牌: %v", err)
	}
	if cfg.Server.VoterTokenSecret == "" {
		logging.Log.Warn("未配置 server.voterTokenSecret，使用随机密钥，重启后投票者令牌将失效")
	}
	if cfg.Server.AdminToken == "" {
		logging.Log.Warn("未配置 server.adminToken，管理接口已禁用")
	}

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", store.VoterTokenHeader, store.AdminTokenHeader},
		ExposeHeaders:    []string{"Content-Length", store.VoterTokenHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api.SetupRoutes(r, api.Dependencies{
		Store:      module,
		Signer:     signer,
		Metrics:    ms,
		AdminToken: cfg.Server.AdminToken,
	})

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	coordinator := shutdown.NewCoordinator(gracefulManager, forcefulManager,
		func() error { return database.RDB.Close() },
		func() error {
			sqlDB, err := database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Log.Infof("服务器已准备就绪，开始监听 %s", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP服务器异常退出: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		coordinator.ListenForSignalsAndShutdown(gctx, server)
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Log.Fatal(err)
	}
}
