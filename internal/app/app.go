package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/automation"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/extractor"
	"github.com/ternarybob/specforge/internal/fetcher"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/llm"
	"github.com/ternarybob/specforge/internal/queue"
	"github.com/ternarybob/specforge/internal/report"
	"github.com/ternarybob/specforge/internal/rulepack"
	"github.com/ternarybob/specforge/internal/search"
	"github.com/ternarybob/specforge/internal/storage/artifacts"
	badgerstore "github.com/ternarybob/specforge/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	Automation     *automation.Store
	Worker         *automation.Worker
	Queue          *queue.Store
	Batches        *queue.BatchManager
	Loader         *rulepack.Loader
	Artifacts      interfaces.ArtifactStore
	RunWriter      *artifacts.RunWriter
	Reporter       *report.Exporter
	Dispatcher     *search.Dispatcher
	LLM            interfaces.LLMService
	PDF            interfaces.PDFExtractor

	scheduler *Scheduler
}

// New wires the application from configuration. Everything that can
// fail at startup fails here.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	storageManager, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	automationStore, err := automation.NewStore(config.Storage.SQLite.Path, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize automation store: %w", err)
	}

	artifactStore, err := artifacts.NewLocalStore(config.Helper.ArtifactsRoot, logger)
	if err != nil {
		storageManager.Close()
		automationStore.Close()
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	llmService, err := llm.NewService(ctx, &config.LLM, logger)
	if err != nil {
		// Extraction degrades to deterministic methods without a provider
		logger.Warn().Err(err).Msg("LLM provider unavailable; runs proceed without AI repair")
		llmService = nil
	}

	a := &App{
		Config:         config,
		Logger:         logger,
		StorageManager: storageManager,
		Automation:     automationStore,
		Queue:          queue.NewStore(config.Storage.QueuePath, logger),
		Loader:         rulepack.NewLoader(),
		Artifacts:      artifactStore,
		RunWriter:      artifacts.NewRunWriter(artifactStore, logger),
		Reporter:       report.NewExporter(logger),
		Dispatcher:     search.NewDispatcher(config.Search, logger),
		LLM:            llmService,
		PDF:            extractor.NewPDFTextExtractor(logger),
	}

	a.Batches = queue.NewBatchManager(a.runBatchProduct, logger)
	a.Worker = automation.NewWorker(automationStore, a.automationHandlers(), 0, 0, logger)
	a.scheduler = NewScheduler(a, logger)

	return a, nil
}

// newFetcher selects the page fetcher from configuration: dry-run for
// tests, browser rendering when JavaScript is enabled, plain HTTP
// otherwise
func (a *App) newFetcher() interfaces.Fetcher {
	if a.Config.Fetcher.DryRun {
		return fetcher.NewDryRunFetcher()
	}
	if a.Config.Fetcher.EnableJavaScript {
		browserConfig := fetcher.DefaultBrowserConfig()
		browserConfig.UserAgent = a.Config.Fetcher.UserAgent
		browserConfig.JavaScriptWaitTime = a.Config.Fetcher.JavaScriptWaitTime
		return fetcher.NewBrowserFetcher(browserConfig, a.Logger)
	}
	requestsPerSecond := 0.0
	if delay := a.Config.Fetcher.RequestDelay; delay > 0 {
		requestsPerSecond = 1.0 / delay.Seconds()
	}
	return fetcher.NewHTTPFetcher(requestsPerSecond, a.Logger)
}

// StartScheduler begins the recurring queue and automation sweeps
func (a *App) StartScheduler() error {
	return a.scheduler.Start(a.Config.Runtime.SweepSchedule)
}

// Close shuts down every component
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	var firstErr error
	if err := a.Automation.Close(); err != nil {
		firstErr = err
	}
	if err := a.StorageManager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
