package planner

import (
	"time"

	"github.com/ternarybob/specforge/internal/models"
)

// HostState buckets a host's health for planning decisions
type HostState string

const (
	HostActive   HostState = "active"
	HostOpen     HostState = "open"
	HostDegraded HostState = "degraded"
	HostBackoff  HostState = "backoff"
	HostBlocked  HostState = "blocked"
)

// HostBudget tracks fetch accounting for one host within a run
type HostBudget struct {
	Host           string                      `json:"host"`
	Started        int                         `json:"started"`
	Completed      int                         `json:"completed"`
	DedupeHits     int                         `json:"dedupe_hits"`
	EvidenceUsed   int                         `json:"evidence_used"`
	ParseFailCount int                         `json:"parse_fail_count"`
	NextRetryTS    time.Time                   `json:"next_retry_ts,omitempty"`
	OutcomeCounts  map[models.OutcomeClass]int `json:"outcome_counts"`
	Score          float64                     `json:"score"`
	RunBlocked     bool                        `json:"run_blocked"` // e.g. brand mismatch on an approved host
}

const (
	scoreCap             = 40.0
	okScoreGain          = 2.0
	evidenceScoreGain    = 3.0
	blockedStateFloor    = -40.0
	degradedStateFloor   = -10.0
	backoffRateLimited   = 15 * time.Minute
	backoffBlocked       = 30 * time.Minute
	backoffServerTimeout = 6 * time.Hour
)

// scorePenalty maps negative outcome classes to score decay
var scorePenalty = map[models.OutcomeClass]float64{
	models.OutcomeNotFound:       -6,
	models.OutcomeBadContent:     -6,
	models.OutcomeFetchError:     -8,
	models.OutcomeNetworkTimeout: -8,
	models.OutcomeServerError:    -10,
	models.OutcomeRateLimited:    -10,
	models.OutcomeLoginWall:      -12,
	models.OutcomeBotChallenge:   -14,
	models.OutcomeBlocked:        -14,
}

// NewHostBudget creates a zeroed budget row for a host
func NewHostBudget(host string) *HostBudget {
	return &HostBudget{
		Host:          host,
		OutcomeCounts: map[models.OutcomeClass]int{},
	}
}

// RecordOutcome applies one classified fetch result: updates counters,
// decays or grows the score, and pushes next_retry_ts forward for
// throttling classes. next_retry_ts never moves backward.
func (b *HostBudget) RecordOutcome(class models.OutcomeClass, now time.Time) {
	b.Completed++
	b.OutcomeCounts[class]++

	if class == models.OutcomeOK {
		b.Score += okScoreGain
		if b.Score > scoreCap {
			b.Score = scoreCap
		}
		return
	}

	if penalty, ok := scorePenalty[class]; ok {
		b.Score += penalty
	}

	var wait time.Duration
	switch class {
	case models.OutcomeRateLimited:
		wait = backoffRateLimited
	case models.OutcomeBlocked, models.OutcomeLoginWall, models.OutcomeBotChallenge:
		wait = backoffBlocked
	case models.OutcomeNetworkTimeout, models.OutcomeServerError:
		wait = backoffServerTimeout
	}
	if wait > 0 {
		until := now.Add(wait)
		if until.After(b.NextRetryTS) {
			b.NextRetryTS = until
		}
	}
}

// RecordEvidenceUsed credits a host whose page contributed accepted
// evidence
func (b *HostBudget) RecordEvidenceUsed() {
	b.EvidenceUsed++
	b.Score += evidenceScoreGain
	if b.Score > scoreCap {
		b.Score = scoreCap
	}
}

// BlockForRun hard-blocks the host for the remainder of the run
func (b *HostBudget) BlockForRun() {
	b.RunBlocked = true
}

// State derives the host's health bucket from its score and backoff
func (b *HostBudget) State(now time.Time) HostState {
	switch {
	case b.RunBlocked || b.Score <= blockedStateFloor:
		return HostBlocked
	case now.Before(b.NextRetryTS):
		return HostBackoff
	case b.Score <= degradedStateFloor:
		return HostDegraded
	case b.Completed > 0:
		return HostActive
	default:
		return HostOpen
	}
}

// Fetchable reports whether the planner may hand out URLs on this host
func (b *HostBudget) Fetchable(now time.Time) bool {
	state := b.State(now)
	return state != HostBlocked && state != HostBackoff
}
