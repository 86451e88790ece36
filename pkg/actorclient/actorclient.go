// Package actorclient implements the asynchronous actor-run invocation
// pattern shared by the map, social, and professional scrapers: POST to
// start a run, poll for its terminal status, then fetch the resulting
// dataset's items. It is the common HTTP core those three adapters build
// their specific request/response contracts on top of.
package actorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/internal/rategovernor"
	"github.com/sells-group/leadgen-engine/internal/resilience"
)

// Run statuses recognised by the poll loop.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
	StatusRunning   = "RUNNING"
	StatusReady     = "READY"
)

// Config parameterises one actor client. Each adapter (MapScraper,
// SocialScraper, ProfessionalScraper) constructs its own Config pointed at
// a different ActorID and ServiceName (so each has its own RateGovernor
// bucket) but shares this package's run/poll/fetch mechanics.
type Config struct {
	BaseURL      string // e.g. https://api.apify.com/v2
	ActorID      string
	Token        string
	ServiceName  string // RateGovernor bucket key, e.g. "apify"
	PollInterval time.Duration // default 10s
	// MaxConsecutiveRunning bounds how many unchanged-status polls are
	// tolerated before the run is abandoned as a hang (spec: ~2 minutes of
	// unchanged RUNNING at the default poll interval).
	MaxConsecutiveRunning int
	WallClockTimeout      time.Duration // overall ceiling for this poll loop
	HTTPClient            *http.Client
	Governor              *rategovernor.Governor
	Retry                 resilience.RetryConfig
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxConsecutiveRunning <= 0 {
		cfg.MaxConsecutiveRunning = 12 // 12 * 10s = 2 minutes
	}
	if cfg.WallClockTimeout <= 0 {
		cfg.WallClockTimeout = 5 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return cfg
}

// Client drives one actor's run/poll/fetch lifecycle.
type Client struct {
	cfg Config
	log *zap.Logger
}

// New builds a Client from cfg, applying documented defaults for any zero
// fields.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults(), log: zap.L().With(zap.String("actor", cfg.ActorID))}
}

type runResponse struct {
	Data struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		DefaultDatasetID   string `json:"defaultDatasetId"`
	} `json:"data"`
}

// Run starts an actor run with input, polls it to a terminal state, and
// returns the id of the dataset holding its results.
func (c *Client) Run(ctx context.Context, input any) (datasetID string, err error) {
	runID, datasetID, status, err := c.start(ctx, input)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.cfg.WallClockTimeout)
	consecutiveUnchanged := 0
	lastStatus := status

	for status == StatusRunning || status == StatusReady {
		if time.Now().After(deadline) {
			return "", eris.Wrapf(&resilience.ActorHangError{RunID: runID}, "actor %s exceeded wall-clock timeout", c.cfg.ActorID)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		status, datasetID, err = c.poll(ctx, runID)
		if err != nil {
			return "", err
		}

		if status == lastStatus {
			consecutiveUnchanged++
		} else {
			consecutiveUnchanged = 0
			lastStatus = status
		}
		if consecutiveUnchanged >= c.cfg.MaxConsecutiveRunning {
			return "", &resilience.ActorHangError{RunID: runID}
		}
	}

	if status != StatusSucceeded {
		return "", &resilience.ActorRunError{RunID: runID, Status: status}
	}
	return datasetID, nil
}

func (c *Client) start(ctx context.Context, input any) (runID, datasetID, status string, err error) {
	if c.cfg.Governor != nil {
		if err := c.cfg.Governor.WaitForService(ctx, c.cfg.ServiceName); err != nil {
			return "", "", "", err
		}
	}

	body, err := json.Marshal(input)
	if err != nil {
		return "", "", "", eris.Wrap(err, "actorclient: marshal run input")
	}

	url := fmt.Sprintf("%s/acts/%s/runs", c.cfg.BaseURL, c.cfg.ActorID)
	var resp runResponse
	err = resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, url, body, &resp)
	})
	if err != nil {
		return "", "", "", eris.Wrapf(err, "actorclient: start run for actor %s", c.cfg.ActorID)
	}
	return resp.Data.ID, resp.Data.DefaultDatasetID, resp.Data.Status, nil
}

func (c *Client) poll(ctx context.Context, runID string) (status, datasetID string, err error) {
	url := fmt.Sprintf("%s/acts/%s/runs/%s", c.cfg.BaseURL, c.cfg.ActorID, runID)
	var resp runResponse
	err = resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &resp)
	})
	if err != nil {
		return "", "", eris.Wrapf(err, "actorclient: poll run %s", runID)
	}
	return resp.Data.Status, resp.Data.DefaultDatasetID, nil
}

// FetchItems retrieves and decodes every item in datasetID's results as T.
func FetchItems[T any](ctx context.Context, c *Client, datasetID string) ([]T, error) {
	if c.cfg.Governor != nil {
		if err := c.cfg.Governor.WaitForService(ctx, c.cfg.ServiceName); err != nil {
			return nil, err
		}
	}

	url := fmt.Sprintf("%s/datasets/%s/items", c.cfg.BaseURL, datasetID)
	var items []T
	err := resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &items)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "actorclient: fetch items for dataset %s", datasetID)
	}
	return items, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return eris.Wrap(err, "actorclient: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(eris.Errorf("actorclient: %s %s returned status %d", method, url, resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("actorclient: %s %s returned status %d", method, url, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "actorclient: decode response")
	}
	return nil
}
