// Package doctor runs environment health checks for the engine: data
// directory permissions, store round trips, and configuration sanity.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/store"
)

// Diagnostics holds the outcome of a full check run.
type Diagnostics struct {
	Checks []CheckResult `json:"checks"`
	Issues []string      `json:"issues"`
	Status string        `json:"status"`
}

// CheckResult is one check's outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "fail", "warn"
	Message  string `json:"message"`
	Severity string `json:"severity"` // "info", "warning", "error"
}

// Runner runs diagnostic checks against live components.
type Runner struct {
	config *config.Config
	store  store.Store
}

// NewRunner creates a diagnostic runner.
func NewRunner(cfg *config.Config, st store.Store) *Runner {
	return &Runner{config: cfg, store: st}
}

// RunAll executes every check and aggregates failures into issues.
func (r *Runner) RunAll(ctx context.Context) *Diagnostics {
	var results []CheckResult
	results = append(results, r.checkDataDirectory())
	results = append(results, r.checkStoreRoundTrip(ctx)...)
	results = append(results, r.checkConfiguration())

	var issues []string
	for _, result := range results {
		if result.Status == "fail" {
			issues = append(issues, result.Message)
		}
	}
	status := "healthy"
	if len(issues) > 0 {
		status = "issues_found"
	}
	return &Diagnostics{Checks: results, Issues: issues, Status: status}
}

func (r *Runner) checkDataDirectory() CheckResult {
	if r.config.DataDir == "" {
		return CheckResult{
			Name: "data_directory", Status: "warn",
			Message: "no data directory configured", Severity: "warning",
		}
	}
	probe := filepath.Join(r.config.DataDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Name: "data_directory", Status: "fail",
			Message:  fmt.Sprintf("data directory not writable: %v", err),
			Severity: "error",
		}
	}
	os.Remove(probe)
	return CheckResult{
		Name: "data_directory", Status: "pass",
		Message: "data directory is writable", Severity: "info",
	}
}

// checkStoreRoundTrip writes, reads and deletes a probe record in a scratch
// namespace that no user owns.
func (r *Runner) checkStoreRoundTrip(ctx context.Context) []CheckResult {
	ns := store.Namespace("_doctor", "probes")
	key := uuid.NewString()
	payload := []byte(`{"probe":true}`)

	if err := r.store.Put(ctx, ns, key, payload); err != nil {
		return []CheckResult{{
			Name: "store_write", Status: "fail",
			Message:  fmt.Sprintf("store write failed: %v", err),
			Severity: "error",
		}}
	}
	results := []CheckResult{{
		Name: "store_write", Status: "pass",
		Message: "store write successful", Severity: "info",
	}}

	if _, err := r.store.Get(ctx, ns, key); err != nil {
		results = append(results, CheckResult{
			Name: "store_read", Status: "fail",
			Message:  fmt.Sprintf("store read failed: %v", err),
			Severity: "error",
		})
	} else {
		results = append(results, CheckResult{
			Name: "store_read", Status: "pass",
			Message: "store read successful", Severity: "info",
		})
	}

	if err := r.store.Delete(ctx, ns, key); err != nil {
		results = append(results, CheckResult{
			Name: "store_delete", Status: "fail",
			Message:  fmt.Sprintf("store delete failed: %v", err),
			Severity: "error",
		})
	} else {
		results = append(results, CheckResult{
			Name: "store_delete", Status: "pass",
			Message: "store delete successful", Severity: "info",
		})
	}
	return results
}

func (r *Runner) checkConfiguration() CheckResult {
	if err := r.config.Validate(); err != nil {
		return CheckResult{
			Name: "configuration", Status: "fail",
			Message:  fmt.Sprintf("invalid configuration: %v", err),
			Severity: "error",
		}
	}
	if r.config.SemanticEnabled && r.config.EmbeddingModel == "" {
		return CheckResult{
			Name: "configuration", Status: "warn",
			Message:  "semantic search enabled without an embedding model",
			Severity: "warning",
		}
	}
	return CheckResult{
		Name: "configuration", Status: "pass",
		Message: "configuration is valid", Severity: "info",
	}
}
