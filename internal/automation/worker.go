package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

// Handler executes one automation job type
type Handler func(ctx context.Context, job *models.AutomationJob) error

// domainState tracks consecutive failures for one domain
type domainState struct {
	failures     int
	blocked      bool
	backoffUntil time.Time
}

// Worker drains the automation store one job at a time. Domains that
// keep failing first back off exponentially, then get blocked for the
// rest of the worker's life.
type Worker struct {
	store             *Store
	handlers          map[string]Handler
	maxDomainFailures int
	backoffBase       time.Duration
	domains           map[string]*domainState
	logger            arbor.ILogger
}

// NewWorker builds a worker over the store with per-type handlers
func NewWorker(store *Store, handlers map[string]Handler, maxDomainFailures int, backoffBase time.Duration, logger arbor.ILogger) *Worker {
	if maxDomainFailures <= 0 {
		maxDomainFailures = 5
	}
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	return &Worker{
		store:             store,
		handlers:          handlers,
		maxDomainFailures: maxDomainFailures,
		backoffBase:       backoffBase,
		domains:           map[string]*domainState{},
		logger:            logger,
	}
}

// ProcessNext claims and executes one job. The bool is false when the
// queue had nothing runnable.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, ok, err := w.store.Claim(ctx)
	if err != nil || !ok {
		return false, err
	}

	domain := payloadDomain(job.Payload)
	if state := w.domains[domain]; domain != "" && state != nil {
		if state.blocked {
			err := w.store.Transition(ctx, job.ID, models.AutomationFailed, "domain_blocked: "+domain)
			return true, err
		}
		if time.Now().Before(state.backoffUntil) {
			// Park the job until the domain cools off; RequeueParked
			// resurrects it once the backoff window passes
			return true, w.store.Transition(ctx, job.ID, models.AutomationFailed, "domain_backoff: "+domain)
		}
	}

	handler, found := w.handlers[job.JobType]
	if !found {
		if err := w.store.Transition(ctx, job.ID, models.AutomationFailed, "handler_missing: "+job.JobType); err != nil {
			return true, err
		}
		return true, fmt.Errorf("%w: %s", interfaces.ErrJobHandlerMissing, job.JobType)
	}

	if err := handler(ctx, job); err != nil {
		w.recordDomainFailure(domain)
		w.logger.Warn().Err(err).Str("job", job.ID).Str("type", job.JobType).Msg("Automation job failed")
		return true, w.store.Transition(ctx, job.ID, models.AutomationFailed, "handler_error: "+err.Error())
	}

	w.resetDomain(domain)
	return true, w.store.Transition(ctx, job.ID, models.AutomationDone, "")
}

// Retry requeues a failed job for another attempt
func (w *Worker) Retry(ctx context.Context, jobID string) error {
	return w.store.Transition(ctx, jobID, models.AutomationQueued, "manual_retry")
}

// RequeueParked resurrects jobs parked by domain backoff once their
// domain's window has passed. Blocked domains stay down.
func (w *Worker) RequeueParked(ctx context.Context) (int, error) {
	parked, err := w.store.ParkedJobs(ctx)
	if err != nil {
		return 0, err
	}
	requeued := 0
	now := time.Now()
	for _, job := range parked {
		domain := payloadDomain(job.Payload)
		if state := w.domains[domain]; state != nil && (state.blocked || now.Before(state.backoffUntil)) {
			continue
		}
		if err := w.store.Transition(ctx, job.ID, models.AutomationQueued, "backoff_elapsed"); err != nil {
			w.logger.Warn().Err(err).Str("job", job.ID).Msg("Failed to requeue parked job")
			continue
		}
		requeued++
	}
	return requeued, nil
}

// DomainBlocked reports whether the worker has given up on a domain
func (w *Worker) DomainBlocked(domain string) bool {
	state := w.domains[domain]
	return state != nil && state.blocked
}

func (w *Worker) recordDomainFailure(domain string) {
	if domain == "" {
		return
	}
	state := w.domains[domain]
	if state == nil {
		state = &domainState{}
		w.domains[domain] = state
	}
	state.failures++
	if state.failures >= w.maxDomainFailures {
		state.blocked = true
		w.logger.Warn().Str("domain", domain).Int("failures", state.failures).Msg("Domain blocked for this worker")
		return
	}
	delay := w.backoffBase
	for i := 1; i < state.failures; i++ {
		delay *= 2
	}
	state.backoffUntil = time.Now().Add(delay)
}

func (w *Worker) resetDomain(domain string) {
	if domain == "" {
		return
	}
	delete(w.domains, domain)
}

// payloadDomain pulls the optional "domain" key out of a job payload
func payloadDomain(payload string) string {
	if payload == "" {
		return ""
	}
	var doc struct {
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return ""
	}
	return doc.Domain
}
