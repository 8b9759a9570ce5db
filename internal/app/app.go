// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/cast"
	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/lore"
	"github.com/Corphon/AIHouse/internal/narrative"
	"github.com/Corphon/AIHouse/internal/reflector"
	"github.com/Corphon/AIHouse/internal/services"
	"github.com/Corphon/AIHouse/internal/storage"
	"github.com/Corphon/AIHouse/internal/utils"

	// 注册LLM提供者
	_ "github.com/Corphon/AIHouse/internal/llm/providers/anthropic"
	_ "github.com/Corphon/AIHouse/internal/llm/providers/google"
	_ "github.com/Corphon/AIHouse/internal/llm/providers/openaicompat"
)

// App 组装后的全部组件。各组件之间只通过这里显式传递引用，不使用全局容器。
type App struct {
	Config  *config.AppConfig
	Logger  *utils.Logger
	Metrics *utils.ShowMetrics

	Store    *storage.FileStorage
	Archive  *storage.Archive
	Usage    *services.UsageTracker
	LLM      *services.LLMService
	Settings *services.SettingsService

	Lore      *lore.Engine
	Reflector *reflector.Reflector
	Registry  *narrative.Registry
	Bus       *bus.Bus
	Show      *services.ShowService

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  bool
	started bool
}

// New 按依赖顺序创建并连接所有组件
func New(cfg *config.AppConfig, logger *utils.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	// 1. 指标与存储
	a.Metrics = utils.NewShowMetrics(utils.NewMetricsCollector())
	store, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化数据目录失败: %w", err)
	}
	a.Store = store
	a.Usage = services.NewUsageTracker(store)

	// 2. LLM 与设置
	a.LLM = services.NewLLMService(cfg, a.Usage, logger, a.Metrics)
	a.Settings = services.NewSettingsService(cfg.LLMProvider, cfg.LLMConfig, a.LLM, logger)

	// 3. 反射器
	refl := reflector.New(
		reflector.OptionsFromConfig(cfg.Show),
		a.summarizer(),
		reflector.NewAddressingDetector(cast.Roster()),
		logger.With(map[string]interface{}{"component": "reflector"}),
		a.Metrics,
	)
	a.Reflector = refl

	// 4. 设定与剧情目录
	engine, err := lore.New(cfg.LorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("加载设定失败: %w", err)
	}
	a.Lore = engine

	catalog, err := narrative.LoadCatalog(cfg.CatalogDir)
	if err != nil {
		logger.Warn("⚠️ 剧情目录加载失败，使用内置目录", map[string]interface{}{
			"dir":   cfg.CatalogDir,
			"error": err.Error(),
		})
		catalog = narrative.SampleCatalog()
	}
	a.Registry = narrative.NewRegistryFromCatalog(catalog,
		logger.With(map[string]interface{}{"component": "narrative"}),
		a.Metrics,
		narrative.WithLore(engine),
	)

	// 5. 总线
	a.Bus = bus.New(cfg.Show.BusBuffer, logger, a.Metrics)

	// 6. 档案库（可选）
	if cfg.DatabasePath != "" {
		archive, err := storage.OpenArchive(cfg.DatabasePath, logger)
		if err != nil {
			a.Bus.Close()
			return nil, fmt.Errorf("打开档案库失败: %w", err)
		}
		a.Archive = archive
		refl.AddObserver(archive)
		a.Registry.OnEvent(archive.OnNarrativeEvent)
	}

	// 7. 节目服务
	a.Show = services.NewShowService(services.ShowDeps{
		Config:    cfg.Show,
		Reflector: refl,
		Registry:  a.Registry,
		Bus:       a.Bus,
		Speaker:   a.LLM,
		Lore:      engine,
		Store:     store,
		Logger:    logger.With(map[string]interface{}{"component": "show"}),
		Metrics:   a.Metrics,
	})

	logger.Info("🏠 节目组件已就绪", map[string]interface{}{
		"summarizer": refl.Summarizer().Name(),
		"llm_ready":  a.LLM.IsReady(),
		"arcs":       len(catalog.Arcs),
		"scenarios":  len(catalog.Scenarios),
		"archive":    a.Archive != nil,
	})
	return a, nil
}

// summarizer 按配置选择摘要策略；返回 nil 时反射器使用启发式
func (a *App) summarizer() reflector.Summarizer {
	mode := a.Config.Show.SummarizerMode
	switch {
	case mode == config.SummarizerLLM,
		mode == config.SummarizerAuto && a.LLM.IsReady():
		return reflector.NewDelegatedSummarizer(a.LLM, a.Config.Show.SummaryTimeout, a.Logger, a.Metrics)
	default:
		return nil
	}
}

// Start 启动后台循环：总线监听、转交消费、设定热加载与自发发言。立即返回。
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("应用已关闭")
	}
	if a.started {
		return nil
	}
	a.started = true

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	a.cancel = cancel
	a.group = g

	maxHops := a.Config.Show.MaxHandoffHops
	g.Go(func() error { return a.Reflector.Listen(gctx, a.Bus, maxHops) })
	g.Go(func() error { return a.Show.ConsumeHandoffs(gctx) })
	g.Go(func() error { return a.Lore.Watch(gctx) })
	g.Go(func() error { return a.Show.StartAutonomous(gctx) })

	a.Logger.Info("🚀 后台循环已启动", map[string]interface{}{"max_hops": maxHops})
	return nil
}

// Close 按创建的相反顺序释放资源，可重复调用
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, group := a.cancel, a.group
	a.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}

	a.Show.Shutdown()
	a.Reflector.Flush()
	a.Bus.Close()
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭档案库: %w", err))
		}
	}
	if err := a.Usage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("保存用量统计: %w", err))
	}

	a.Logger.Info("👋 应用已关闭", nil)
	return errors.Join(errs...)
}
