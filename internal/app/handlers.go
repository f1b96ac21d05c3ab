package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/specforge/internal/automation"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// Automation job types
const (
	JobTypeRunProduct      = "run_product"
	JobTypeCompileCategory = "compile_category"
)

type runProductPayload struct {
	Category  string `json:"category"`
	ProductID string `json:"product_id"`
	Domain    string `json:"domain,omitempty"`
}

type compileCategoryPayload struct {
	Category string `json:"category"`
}

// automationHandlers maps job types onto their executors
func (a *App) automationHandlers() map[string]automation.Handler {
	return map[string]automation.Handler{
		JobTypeRunProduct:      a.handleRunProduct,
		JobTypeCompileCategory: a.handleCompileCategory,
	}
}

// handleRunProduct loads the stored job input and runs one product
func (a *App) handleRunProduct(ctx context.Context, job *models.AutomationJob) error {
	var payload runProductPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("invalid run_product payload: %w", err)
	}
	if payload.Category == "" || payload.ProductID == "" {
		return fmt.Errorf("run_product payload requires category and product_id")
	}
	return a.runBatchProduct(ctx, payload.Category, payload.ProductID)
}

// handleCompileCategory recompiles a category's rule pack and drops the
// loader cache so the next run picks it up
func (a *App) handleCompileCategory(ctx context.Context, job *models.AutomationJob) error {
	var payload compileCategoryPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("invalid compile_category payload: %w", err)
	}
	if payload.Category == "" {
		return fmt.Errorf("compile_category payload requires category")
	}

	compiler := rulepack.NewCompiler(a.Config.Helper.Root, a.Logger)
	result, err := compiler.Compile(payload.Category, false)
	if err != nil {
		return err
	}
	if !result.Envelope.OK {
		return fmt.Errorf("compile failed: %v", result.Envelope.Errors)
	}
	a.Loader.InvalidateCache(rulepack.NormalizeCategory(payload.Category))
	return nil
}
