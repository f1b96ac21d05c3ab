package llm

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// OfflineService is an LLMService that replays scripted results without
// touching the network. Used for dry runs and tests.
type OfflineService struct {
	mu       sync.Mutex
	logger   arbor.ILogger
	scripted []*interfaces.LLMResult
	next     int

	// Requests records every request received, in order
	Requests []*interfaces.LLMRequest
}

var _ interfaces.LLMService = (*OfflineService)(nil)

// NewOfflineService creates an offline provider that replays the given
// results in order. Once the script is exhausted, Extract returns empty
// results.
func NewOfflineService(logger arbor.ILogger, scripted ...*interfaces.LLMResult) *OfflineService {
	return &OfflineService{
		logger:   logger,
		scripted: scripted,
	}
}

// Extract records the request and returns the next scripted result
func (s *OfflineService) Extract(_ context.Context, request *interfaces.LLMRequest) (*interfaces.LLMResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, request)

	if s.next < len(s.scripted) {
		result := s.scripted[s.next]
		s.next++
		return result, nil
	}

	s.logger.Debug().
		Int("request", len(s.Requests)).
		Msg("Offline LLM script exhausted, returning empty result")
	return &interfaces.LLMResult{}, nil
}

// CallCount returns how many requests the service has received
func (s *OfflineService) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

func (s *OfflineService) Close() error {
	return nil
}
