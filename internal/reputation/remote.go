package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maldo/backend/internal/metrics"
)

// RemoteSource reads fixed-point summaries from an external reputation
// registry (for example an indexer in front of the on-chain registry).
//
// Expected endpoint: GET {baseURL}/reputation/{agentID} returning
// {"averageValue": 480, "feedbackCount": 12}.
type RemoteSource struct {
	baseURL    string
	httpClient *http.Client
	aggregator Aggregator
	metrics    *metrics.Metrics
}

// NewRemoteSource creates a remote source. The timeout bounds every lookup.
func NewRemoteSource(baseURL string, timeout time.Duration, agg Aggregator, m *metrics.Metrics) *RemoteSource {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &RemoteSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		aggregator: agg,
		metrics:    m,
	}
}

func (s *RemoteSource) Snapshot(ctx context.Context, agentID string) (Snapshot, error) {
	summary, err := s.fetch(ctx, agentID)
	if err != nil {
		s.metrics.ReputationLookups.WithLabelValues("remote", "error").Inc()
		return Snapshot{}, err
	}
	s.metrics.ReputationLookups.WithLabelValues("remote", "ok").Inc()
	return s.aggregator.FromSummary(summary), nil
}

func (s *RemoteSource) fetch(ctx context.Context, agentID string) (Summary, error) {
	endpoint := s.baseURL + "/reputation/" + url.PathEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("build registry request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Summary{}, fmt.Errorf("registry returned %d for %s", resp.StatusCode, agentID)
	}

	var summary Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return Summary{}, fmt.Errorf("decode registry summary: %w", err)
	}
	return summary, nil
}
