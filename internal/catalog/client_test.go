package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalsync/internal"
	"journalsync/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func testConfig() config.Config {
	return config.Config{
		APIBaseURL:         "https://example.test/api/open",
		APITimeoutMs:       5000,
		APIRateLimitRPS:    1000,
		APIMaxRetries:      3,
		APIRetryBaseMs:     1,
		FetchConcurrency:   2,
		UpsertWorkers:      2,
		ByIDsBatchSize:     2,
		DeleteBatchSize:    2,
		PauseCheckInterval: 2,
		SyncPageSize:       2,
		AnalysisPageSize:   2,
	}
}

func newTestClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	client := NewClient(testConfig(), nil, testLogger())
	client.httpClient = &http.Client{Transport: fn}
	return client
}

func jsonResponse(status int, payload any) *http.Response {
	blob, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(blob))),
		Header:     make(http.Header),
	}
}

func TestFetchPageBuildsQueryAndDecodes(t *testing.T) {
	inDOAJ := true
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/api/open/journals", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "3", q.Get("page"))
		assert.Equal(t, "50", q.Get("pageSize"))
		assert.Equal(t, "nature", q.Get("q"))
		assert.Equal(t, "true", q.Get("inDoaj"))
		assert.False(t, q.Has("inNlm"))
		assert.Equal(t, "title", q.Get("sortBy"))

		return jsonResponse(http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"rows":  []map[string]any{{"unified": map[string]any{"id": 7, "canonical_name": "Nature"}}},
				"total": 120,
				"page":  3,
			},
		}), nil
	})

	page, err := client.FetchPage(context.Background(), 3, 50, internal.Filters{Query: "nature", InDOAJ: &inDOAJ, SortBy: "title"})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, 120, page.Pagination.Total)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.Equal(t, 3, page.Pagination.Page)
}

func TestFetchByIDsRetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/api/open/journals/byIds", r.URL.Path)
		assert.Equal(t, "1,2", r.URL.Query().Get("ids"))
		assert.Equal(t, "1", r.URL.Query().Get("full"))

		switch attempts.Add(1) {
		case 1:
			return nil, io.ErrUnexpectedEOF
		case 2:
			return nil, errors.New("read tcp: connection reset by peer")
		}
		return jsonResponse(http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"rows": []map[string]any{{"id": 1}, {"id": 2}}},
		}), nil
	})

	rows, err := client.FetchByIDs(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, io.EOF
	})

	_, err := client.FetchByIDs(context.Background(), []string{"9"})
	require.Error(t, err)

	var remote *internal.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int32(4), attempts.Load())
}

func TestFetchDoesNotRetryApplicationErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   map[string]any
	}{
		{name: "http error", status: http.StatusBadGateway, body: map[string]any{"error": "upstream"}},
		{name: "unsuccessful envelope", status: http.StatusOK, body: map[string]any{"success": false, "message": "bad filter"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var attempts atomic.Int32
			client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
				attempts.Add(1)
				return jsonResponse(tc.status, tc.body), nil
			})

			_, err := client.FetchPage(context.Background(), 1, 10, internal.Filters{})
			var remote *internal.RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, tc.status, remote.StatusCode)
			assert.Equal(t, int32(1), attempts.Load())
		})
	}
}

func TestFetchByIDsEmptyIsNoop(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request %s", r.URL)
		return nil, nil
	})
	rows, err := client.FetchByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(io.EOF))
	assert.True(t, isTransient(errors.New("tls: bad record MAC")))
	assert.False(t, isTransient(errors.New("certificate signed by unknown authority")))
	assert.False(t, isTransient(nil))
}
