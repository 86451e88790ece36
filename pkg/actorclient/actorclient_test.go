package actorclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-engine/internal/resilience"
)

type fakeItem struct {
	Name string `json:"name"`
}

func writeRun(w http.ResponseWriter, id, status, datasetID string) {
	resp := runResponse{}
	resp.Data.ID = id
	resp.Data.Status = status
	resp.Data.DefaultDatasetID = datasetID
	_ = json.NewEncoder(w).Encode(resp)
}

func TestRunSucceedsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRun(w, "run1", StatusSucceeded, "ds1")
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		ActorID: "actor1",
		Token:   "tok",
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})

	datasetID, err := c.Run(context.Background(), map[string]string{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "ds1", datasetID)
}

func TestRunPollsUntilTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeRun(w, "run1", StatusRunning, "ds1")
			return
		}
		writeRun(w, "run1", StatusSucceeded, "ds1")
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:      srv.URL,
		ActorID:      "actor1",
		Token:        "tok",
		PollInterval: 5 * time.Millisecond,
		Retry:        resilience.RetryConfig{MaxAttempts: 1},
	})

	datasetID, err := c.Run(context.Background(), map[string]string{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "ds1", datasetID)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestRunReturnsActorRunErrorOnTerminalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRun(w, "run1", StatusFailed, "")
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		ActorID: "actor1",
		Token:   "tok",
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})

	_, err := c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, resilience.IsActorFailure(err))
}

func TestRunAbandonsHangingRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRun(w, "run1", StatusRunning, "ds1")
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:               srv.URL,
		ActorID:               "actor1",
		Token:                 "tok",
		PollInterval:          2 * time.Millisecond,
		MaxConsecutiveRunning: 3,
		Retry:                 resilience.RetryConfig{MaxAttempts: 1},
	})

	_, err := c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, resilience.IsActorFailure(err))
}

func TestFetchItemsDecodesDataset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]fakeItem{{Name: "a"}, {Name: "b"}})
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		ActorID: "actor1",
		Token:   "tok",
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})

	items, err := FetchItems[fakeItem](context.Background(), c, "ds1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Name)
}

func TestDoJSONTreatsServerErrorAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		ActorID: "actor1",
		Token:   "tok",
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})

	err := c.doJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
