package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/ternarybob/specforge/internal/category"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/orchestrator"
	"github.com/ternarybob/specforge/internal/report"
	"github.com/ternarybob/specforge/internal/storage/artifacts"
)

// JobKey is the artifact-store key where a product's job input lives
func JobKey(categoryName, productID string) string {
	return path.Join("jobs", artifacts.Slug(categoryName), productID+".json")
}

// SaveJob stores a job input document so queue and batch runs can find it
func (a *App) SaveJob(ctx context.Context, job *models.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return a.Artifacts.Put(ctx, JobKey(job.Category, job.ProductID), data)
}

// LoadJob reads a stored job input document
func (a *App) LoadJob(ctx context.Context, key string) (*models.Job, error) {
	data, err := a.Artifacts.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read job input %s: %w", key, err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job input %s: %w", key, err)
	}
	return &job, nil
}

// RunJob executes one product run end to end: load the pack and
// category config, converge, and persist the run artifacts. Search
// provider selection happens per round inside the orchestrator.
func (a *App) RunJob(ctx context.Context, job *models.Job) (*orchestrator.RunResult, error) {
	pack, err := a.Loader.Load(a.Config.Helper.Root, job.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule pack for %s: %w", job.Category, err)
	}
	catConfig, err := category.Load(a.Config.Helper.CategoriesRoot, job.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to load category config for %s: %w", job.Category, err)
	}

	orch := orchestrator.New(a.Config, pack, catConfig, orchestrator.Deps{
		Fetcher:  a.newFetcher(),
		Search:   a.Dispatcher.Decide,
		LLM:      a.LLM,
		Learning: a.StorageManager.LearningStorage(),
		PDF:      a.PDF,
	}, a.Logger)

	result, err := orch.Run(ctx, job)
	if err != nil {
		return nil, err
	}

	runID := common.NewRunID()
	if err := a.persistRun(ctx, runID, result); err != nil {
		a.Logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to persist run artifacts")
	}
	return result, nil
}

// persistRun writes the structured artifacts plus the human summary
func (a *App) persistRun(ctx context.Context, runID string, result *orchestrator.RunResult) error {
	if err := a.RunWriter.PersistRun(ctx, runID, result); err != nil {
		return err
	}

	job := result.Job
	prefix := artifacts.RunPrefix(job.Category, job.IdentityLock.Brand, job.IdentityLock.Model, runID)
	markdown := report.BuildSummaryMarkdown(result)
	if err := a.Artifacts.Put(ctx, path.Join(prefix, "summary.md"), []byte(markdown)); err != nil {
		return err
	}
	if pdf, err := a.Reporter.MarkdownToPDF(markdown); err != nil {
		a.Logger.Warn().Err(err).Msg("Summary PDF generation failed")
	} else if err := a.Artifacts.Put(ctx, path.Join(prefix, "summary.pdf"), pdf); err != nil {
		return err
	}
	return nil
}

// runBatchProduct is the batch manager's product runner
func (a *App) runBatchProduct(ctx context.Context, categoryName, productID string) error {
	job, err := a.LoadJob(ctx, JobKey(categoryName, productID))
	if err != nil {
		return err
	}
	result, err := a.RunJob(ctx, job)
	if err != nil {
		return err
	}
	if result.StopReason != orchestrator.StopComplete {
		return fmt.Errorf("run stopped: %s", result.StopReason)
	}
	return nil
}

// ProcessQueueOnce claims the next runnable queue product, runs it, and
// records the terminal status. Returns false when nothing was runnable.
func (a *App) ProcessQueueOnce(ctx context.Context) (bool, error) {
	product, ok, err := a.Queue.SelectNext(time.Now())
	if err != nil || !ok {
		return false, err
	}

	jobKey := product.S3Key
	if jobKey == "" {
		jobKey = JobKey(product.Category, product.ProductID)
	}
	job, err := a.LoadJob(ctx, jobKey)
	if err != nil {
		return true, a.Queue.RecordFailure(product.ProductID,
			a.Config.Runtime.QueueBaseBackoff, a.Config.Runtime.QueueMaxAttempts,
			"job input unreadable")
	}

	result, err := a.RunJob(ctx, job)
	if err != nil {
		return true, a.Queue.RecordFailure(product.ProductID,
			a.Config.Runtime.QueueBaseBackoff, a.Config.Runtime.QueueMaxAttempts,
			err.Error())
	}

	switch result.StopReason {
	case orchestrator.StopComplete:
		return true, a.Queue.Complete(product.ProductID, models.ProductComplete)
	case orchestrator.StopBudgetExhausted:
		return true, a.Queue.Complete(product.ProductID, models.ProductExhausted)
	case orchestrator.StopIdentityStuck:
		return true, a.Queue.Complete(product.ProductID, models.ProductNeedsManual)
	default:
		return true, a.Queue.RecordFailure(product.ProductID,
			a.Config.Runtime.QueueBaseBackoff, a.Config.Runtime.QueueMaxAttempts,
			result.StopReason)
	}
}

// RunUntilComplete drains the queue until nothing is runnable or the
// context is cancelled
func (a *App) RunUntilComplete(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		ran, err := a.ProcessQueueOnce(ctx)
		if err != nil {
			return processed, err
		}
		if !ran {
			return processed, nil
		}
		processed++
	}
}
