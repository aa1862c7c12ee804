package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/astra-edge/astra-edge/internal/background"
	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/config"
	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/lifecycle"
	"github.com/astra-edge/astra-edge/internal/logging"
	"github.com/astra-edge/astra-edge/internal/metrics"
	"github.com/astra-edge/astra-edge/internal/notify"
	"github.com/astra-edge/astra-edge/internal/proxy"
	"github.com/astra-edge/astra-edge/internal/server"
	"github.com/astra-edge/astra-edge/internal/server/routes"
	"github.com/astra-edge/astra-edge/internal/statedb"
	"github.com/astra-edge/astra-edge/internal/strategy"
	"github.com/astra-edge/astra-edge/internal/version"
)

const shutdownTimeout = 10 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Global.Origin
		fields["routing"] = cfg.RoutingSummary()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, opts.configPath, logger); err != nil {
		fmt.Fprintf(stdErr, "服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// serve 按“磁盘缓存 → 状态库 → 生命周期 → 策略引擎 → Fiber server”顺序组装组件，
// 所有请求共享同一个缓存与分区名来源。
func serve(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) error {
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	state, err := statedb.Open(filepath.Join(cfg.Global.StoragePath, "state.db"))
	if err != nil {
		return fmt.Errorf("打开状态库失败: %w", err)
	}
	defer state.Close()

	fetcher := server.NewOriginFetcher(server.NewOriginClient(cfg))
	collector := metrics.New()

	controller, err := lifecycle.New(lifecycle.Options{
		Config:  cfg,
		Store:   store,
		State:   state,
		Fetcher: fetcher,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("初始化生命周期控制器失败: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Store:    store,
		Fetcher:  fetcher,
		Rules:    strategy.NewRuleSet(cfg.Routing.NetworkFirst, cfg.Routing.CacheFirst, cfg.Routing.ImageExtensions),
		Names:    controller,
		Logger:   logger,
		Observer: collector,
	})
	if err != nil {
		return fmt.Errorf("初始化策略引擎失败: %w", err)
	}
	defer eng.Wait()

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("安装静态资源失败: %w", err)
	}

	dispatcher, err := background.NewDispatcher(background.Options{
		Origin:    cfg.Global.Origin,
		Outbox:    state,
		Refresher: controller,
		Fetcher:   fetcher,
		Logger:    logger,
		Observer:  collector,
	})
	if err != nil {
		return fmt.Errorf("初始化后台触发器失败: %w", err)
	}
	go dispatcher.RunPeriodic(ctx, cfg.Global.PeriodicSyncInterval.DurationValue())

	resolver, err := server.NewResolver(cfg, eng)
	if err != nil {
		return err
	}

	handler := proxy.NewHandler(eng, logger)
	forwarder := proxy.NewForwarder(nil, logger)
	for _, kind := range strategy.Kinds() {
		forwarder.MustRegister(proxy.StrategyRegistration{Kind: kind, Handler: handler})
	}

	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Resolver:   resolver,
		Proxy:      forwarder,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStrategyRoutes(app, eng.Rules())
	routes.RegisterAdminRoutes(app, routes.AdminDeps{
		Logger:        logger,
		Store:         store,
		Lifecycle:     controller,
		Triggers:      dispatcher,
		Outbox:        state,
		Notifications: notify.NewCenter(cfg.Global.NotificationLimit),
		Metrics:       collector.Handler(),
	})

	fields := logging.BaseFields("startup", configPath)
	fields["origin"] = cfg.Global.Origin
	fields["listen_port"] = port
	fields["partitions"] = controller.Names()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	return listen(ctx, app, port, logger)
}

// listen 启动 Fiber 服务，收到退出信号后优雅关闭。
func listen(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号，停止接收新请求")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("关闭 Fiber 服务失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("astra-edge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ASTRA_EDGE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ASTRA_EDGE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
