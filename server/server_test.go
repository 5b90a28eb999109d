package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsflux/pkg/cache"
	"github.com/umputun/newsflux/pkg/domain"
	"github.com/umputun/newsflux/pkg/queue"
)

type configStub struct {
	sources []domain.Source
}

func (c *configStub) GetServerConfig() (string, time.Duration) { return ":0", time.Second }
func (c *configStub) DefaultSources() []domain.Source          { return c.sources }

type jobsStub struct {
	enqueueFn func(ctx context.Context, units []domain.WorkUnit, opts ...queue.Options) (domain.JobRecord, error)
	statusFn  func(jobID string) (domain.JobRecord, error)
	cancelFn  func(jobID string) error
	stats     queue.Stats
}

func (j *jobsStub) Enqueue(ctx context.Context, units []domain.WorkUnit, opts ...queue.Options) (domain.JobRecord, error) {
	return j.enqueueFn(ctx, units, opts...)
}
func (j *jobsStub) GetStatus(jobID string) (domain.JobRecord, error) { return j.statusFn(jobID) }
func (j *jobsStub) Cancel(jobID string) error                        { return j.cancelFn(jobID) }
func (j *jobsStub) Stats(context.Context) queue.Stats                { return j.stats }

type cacheStub struct {
	stats      cache.Stats
	breaker    cache.BreakerState
	deleteFn   func(ctx context.Context, prefix string) (int, error)
	resetCalls int
}

func (c *cacheStub) Stats() cache.Stats { return c.stats }
func (c *cacheStub) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return c.deleteFn(ctx, prefix)
}
func (c *cacheStub) BreakerState() cache.BreakerState { return c.breaker }
func (c *cacheStub) ResetBreaker()                    { c.resetCalls++ }

type articlesStub struct {
	counts map[string]int
	err    error
}

func (a *articlesStub) CountByCategory(context.Context) (map[string]int, error) {
	return a.counts, a.err
}

type testServer struct {
	srv      *httptest.Server
	jobs     *jobsStub
	cache    *cacheStub
	articles *articlesStub
	config   *configStub
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		config: &configStub{sources: []domain.Source{
			{ID: "default-feed", URL: "https://example.com/rss", Kind: domain.SourceFeed},
		}},
		jobs: &jobsStub{
			enqueueFn: func(_ context.Context, _ []domain.WorkUnit, _ ...queue.Options) (domain.JobRecord, error) {
				return domain.JobRecord{ID: "job-1", State: domain.JobQueued}, nil
			},
			statusFn: func(string) (domain.JobRecord, error) { return domain.JobRecord{}, errors.New("not found") },
			cancelFn: func(string) error { return nil },
			stats:    queue.Stats{Queued: 1, BackendUp: true},
		},
		cache: &cacheStub{
			stats:    cache.Stats{Hits: 10, Misses: 5, HitRate: 0.667},
			deleteFn: func(context.Context, string) (int, error) { return 3, nil },
		},
		articles: &articlesStub{counts: map[string]int{"economia": 2}},
	}
	s := New(ts.config, ts.jobs, ts.cache, ts.articles, "test-version", false)
	ts.srv = httptest.NewServer(s.router)
	t.Cleanup(ts.srv.Close)
	return ts
}

func doRequest(t *testing.T, method, url string, body []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	if resp.ContentLength != 0 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestServer_EnqueueBatch(t *testing.T) {
	ts := startTestServer(t)

	body := `{"sources": [{"id": "src-1", "url": "https://example.com/rss", "kind": "feed"}]}`
	resp, decoded := doRequest(t, http.MethodPost, ts.srv.URL+"/api/v1/batch", []byte(body))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "job-1", decoded["id"])
	assert.Equal(t, "queued", decoded["state"])
}

func TestServer_EnqueueBatchDefaultSources(t *testing.T) {
	ts := startTestServer(t)
	var gotUnits []domain.WorkUnit
	ts.jobs.enqueueFn = func(_ context.Context, units []domain.WorkUnit, _ ...queue.Options) (domain.JobRecord, error) {
		gotUnits = units
		return domain.JobRecord{ID: "job-2", State: domain.JobQueued}, nil
	}

	resp, _ := doRequest(t, http.MethodPost, ts.srv.URL+"/api/v1/batch", nil)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, gotUnits, 1)
	require.Len(t, gotUnits[0].Sources, 1)
	assert.Equal(t, "default-feed", gotUnits[0].Sources[0].ID)
	assert.NotEmpty(t, gotUnits[0].ID)
}

func TestServer_EnqueueBatchSyncFallback(t *testing.T) {
	ts := startTestServer(t)
	ts.jobs.enqueueFn = func(_ context.Context, _ []domain.WorkUnit, _ ...queue.Options) (domain.JobRecord, error) {
		return domain.JobRecord{ID: "job-3", State: domain.JobCompleted, SyncExecuted: true}, nil
	}

	resp, decoded := doRequest(t, http.MethodPost, ts.srv.URL+"/api/v1/batch", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode, "synchronously executed job answers 200, not 202")
	assert.Equal(t, "completed", decoded["state"])
	assert.Equal(t, true, decoded["sync_executed"])
}

func TestServer_EnqueueBatchNoSources(t *testing.T) {
	ts := startTestServer(t)
	ts.config.sources = nil

	resp, decoded := doRequest(t, http.MethodPost, ts.srv.URL+"/api/v1/batch", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decoded["error"], "no sources")
}

func TestServer_EnqueueBatchBadBody(t *testing.T) {
	ts := startTestServer(t)

	resp, _ := doRequest(t, http.MethodPost, ts.srv.URL+"/api/v1/batch", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_EnqueueBatchQueueError(t *testing.T) {
	ts := startTestServer(t)
	ts.jobs.enqueueFn = func(context.Context, []domain.WorkUnit, ...queue.Options) (domain.JobRecord, error) {
		return domain.JobRecord{}, errors.New("queue exploded")
	}

	resp, decoded := doRequest(t, http.MethodPost, ts.srv.URL+"/api/v1/batch", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decoded["error"], "queue exploded")
}

func TestServer_JobStatus(t *testing.T) {
	ts := startTestServer(t)
	ts.jobs.statusFn = func(jobID string) (domain.JobRecord, error) {
		if jobID == "known" {
			return domain.JobRecord{ID: "known", State: domain.JobActive}, nil
		}
		return domain.JobRecord{}, fmt.Errorf("job %s not found", jobID)
	}

	t.Run("found", func(t *testing.T) {
		resp, decoded := doRequest(t, http.MethodGet, ts.srv.URL+"/api/v1/jobs/known", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "active", decoded["state"])
	})

	t.Run("missing", func(t *testing.T) {
		resp, decoded := doRequest(t, http.MethodGet, ts.srv.URL+"/api/v1/jobs/nope", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, decoded["error"], "not found")
	})
}

func TestServer_CancelJob(t *testing.T) {
	ts := startTestServer(t)

	t.Run("cancellable", func(t *testing.T) {
		resp, decoded := doRequest(t, http.MethodDelete, ts.srv.URL+"/api/v1/jobs/job-1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "cancelled", decoded["result"])
	})

	t.Run("already running", func(t *testing.T) {
		ts.jobs.cancelFn = func(string) error { return errors.New("job job-1 is active, not cancellable") }
		resp, decoded := doRequest(t, http.MethodDelete, ts.srv.URL+"/api/v1/jobs/job-1", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decoded["error"], "not cancellable")
	})
}

func TestServer_QueueStats(t *testing.T) {
	ts := startTestServer(t)

	resp, decoded := doRequest(t, http.MethodGet, ts.srv.URL+"/api/v1/queue/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decoded["queued"])
	assert.Equal(t, true, decoded["backend_up"])
}

func TestServer_CacheStats(t *testing.T) {
	ts := startTestServer(t)

	resp, decoded := doRequest(t, http.MethodGet, ts.srv.URL+"/api/v1/cache/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10), decoded["hits"])
	assert.Equal(t, float64(5), decoded["misses"])
}

func TestServer_InvalidateCache(t *testing.T) {
	ts := startTestServer(t)
	var gotPrefix string
	ts.cache.deleteFn = func(_ context.Context, prefix string) (int, error) {
		gotPrefix = prefix
		return 7, nil
	}

	t.Run("with prefix", func(t *testing.T) {
		resp, decoded := doRequest(t, http.MethodDelete, ts.srv.URL+"/api/v1/cache?prefix=articles:", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(7), decoded["deleted"])
		assert.Equal(t, "articles:", gotPrefix)
	})

	t.Run("prefix required", func(t *testing.T) {
		resp, decoded := doRequest(t, http.MethodDelete, ts.srv.URL+"/api/v1/cache", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decoded["error"], "prefix")
	})

	t.Run("backend failure", func(t *testing.T) {
		ts.cache.deleteFn = func(context.Context, string) (int, error) { return 0, errors.New("redis down") }
		resp, _ := doRequest(t, http.MethodDelete, ts.srv.URL+"/api/v1/cache?prefix=x", nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServer_Breaker(t *testing.T) {
	ts := startTestServer(t)
	ts.cache.breaker = cache.BreakerState{Open: true, Failures: 5}

	resp, decoded := doRequest(t, http.MethodGet, ts.srv.URL+"/api/v1/cache/breaker", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["open"])
	assert.Equal(t, float64(5), decoded["failures"])

	resp, decoded = doRequest(t, http.MethodDelete, ts.srv.URL+"/api/v1/cache/breaker", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", decoded["result"])
	assert.Equal(t, 1, ts.cache.resetCalls)
}

func TestServer_Status(t *testing.T) {
	ts := startTestServer(t)

	resp, decoded := doRequest(t, http.MethodGet, ts.srv.URL+"/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decoded["status"])
	assert.Equal(t, "test-version", decoded["version"])
	categories, ok := decoded["categories"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), categories["economia"])
}

func TestServer_StatusCountFailureTolerated(t *testing.T) {
	ts := startTestServer(t)
	ts.articles.err = errors.New("db closed")

	resp, decoded := doRequest(t, http.MethodGet, ts.srv.URL+"/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decoded["status"])
	_, hasCategories := decoded["categories"]
	assert.False(t, hasCategories)
}

func TestServer_Ping(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-version", resp.Header.Get("App-Version"))
}
