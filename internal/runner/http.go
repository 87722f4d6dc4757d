package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

const analysesPath = "/analyses"

// HTTPOptions parameterise the HTTP runner.
type HTTPOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// HTTPRunner posts analysis requests to the analysis service.
type HTTPRunner struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPRunner constructs an HTTP runner.
func NewHTTPRunner(opts HTTPOptions, logger zerolog.Logger) *HTTPRunner {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HTTPRunner{
		opts:    opts,
		logger:  logger.With().Str("component", "analysis_runner").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Run requests a fresh analysis of cfg.Company.
func (r *HTTPRunner) Run(ctx context.Context, cfg MonitorConfig) (*domain.Snapshot, error) {
	snap, err := r.run(ctx, cfg)
	if err != nil {
		return nil, &domain.AnalysisRunnerError{MonitorID: cfg.MonitorID, Err: err}
	}
	return snap, nil
}

func (r *HTTPRunner) run(ctx context.Context, cfg MonitorConfig) (*domain.Snapshot, error) {
	if r.baseURL == "" {
		return nil, errors.New("runner base url not configured")
	}
	if strings.TrimSpace(cfg.Company) == "" {
		return nil, errors.New("company is required")
	}

	body, err := json.Marshal(analysisRequest{
		Company:       cfg.Company,
		Industry:      cfg.Industry,
		PriorityTypes: cfg.PriorityTypes,
		Metrics:       cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+analysesPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "intelmon/1.0")
	}
	if r.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.opts.APIKey)
	}

	started := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res analysisResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	if len(res.Metrics) == 0 && len(res.Fields) == 0 && len(res.MarketTrends) == 0 {
		return nil, errors.New("analysis response is empty")
	}

	metrics := make(domain.Metrics, len(res.Metrics))
	for name, v := range res.Metrics {
		metrics[name] = v.InexactFloat64()
	}

	r.logger.Debug().Str("monitor_id", cfg.MonitorID).Int("metrics", len(metrics)).
		Dur("elapsed", time.Since(started)).Msg("analysis received")

	return &domain.Snapshot{
		Company:      cfg.Company,
		Industry:     cfg.Industry,
		Metrics:      metrics,
		Fields:       res.Fields,
		MarketTrends: res.MarketTrends,
		ContextFlags: res.ContextFlags,
	}, nil
}

type analysisRequest struct {
	Company       string   `json:"company"`
	Industry      string   `json:"industry"`
	PriorityTypes []string `json:"priority_types,omitempty"`
	Metrics       []string `json:"metrics,omitempty"`
}

// analysisResponse accepts metric values as JSON numbers or strings.
type analysisResponse struct {
	Metrics      map[string]decimal.Decimal `json:"metrics"`
	Fields       map[string]string          `json:"fields"`
	MarketTrends []string                   `json:"market_trends"`
	ContextFlags []string                   `json:"context_flags"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Detail != "" {
			return fmt.Errorf("analysis api error (%d): %s", status, apiErr.Detail)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("analysis api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("analysis api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("analysis api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("analysis api error (%d)", status)
}

var _ Runner = (*HTTPRunner)(nil)
