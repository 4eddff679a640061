package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/runctx"
	"golang.org/x/time/rate"
)

// HTTPClient calls the scoring service: GET {baseURL}/recommend?cv_id=..&top_k=..
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

type recommendResponse struct {
	Results []model.ScoredCandidate `json:"results"`
}

// NewHTTPClient builds a client limited to rps requests per second. rps <= 0 disables the limit.
func NewHTTPClient(baseURL string, timeout time.Duration, rps float64) *HTTPClient {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(limit, burst),
	}
}

func (c *HTTPClient) FetchScoredCandidates(ctx context.Context, cvID uint64, topK int) ([]model.ScoredCandidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("scoring rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("cv_id", strconv.FormatUint(cvID, 10))
	q.Set("top_k", strconv.Itoa(topK))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/recommend?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if rid := runctx.RunID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request cv=%d: %w", cvID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scoring status=%d cv=%d body=%s", resp.StatusCode, cvID, string(body))
	}
	var out recommendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode scoring response cv=%d: %w", cvID, err)
	}
	return out.Results, nil
}
