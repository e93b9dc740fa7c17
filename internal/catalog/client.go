package catalog

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"journalsync/internal"
	"journalsync/internal/config"
	"journalsync/internal/metrics"
	"journalsync/internal/util"
)

type Client struct {
	cfg        config.Config
	httpClient *http.Client
	transport  *http.Transport
	limiter    *RateLimiter
	log        *logrus.Logger

	maxRetries int
	retryBase  time.Duration
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type rowsPayload struct {
	Rows       []map[string]any `json:"rows"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
}

// NewClient builds a client that shares limiter with every other caller of
// the same API. Idle connections are kept per host up to the fetch
// concurrency so batches reuse them.
func NewClient(cfg config.Config, limiter *RateLimiter, log *logrus.Logger) *Client {
	if limiter == nil {
		limiter = NewRateLimiter(cfg.APIRateLimitRPS)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = max(cfg.FetchConcurrency, 1)

	var rt http.RoundTripper = transport
	if token := strings.TrimSpace(cfg.APIToken); token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.APITimeoutMs) * time.Millisecond, Transport: rt},
		transport:  transport,
		limiter:    limiter,
		log:        log,
		maxRetries: max(cfg.APIMaxRetries, 0),
		retryBase:  time.Duration(cfg.APIRetryBaseMs) * time.Millisecond,
	}
}

func (c *Client) FetchPage(ctx context.Context, page, pageSize int, filters internal.Filters) (internal.Page, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))
	setString(params, "q", filters.Query)
	setBool(params, "inDoaj", filters.InDOAJ)
	setBool(params, "inNlm", filters.InNLM)
	setBool(params, "hasWikidata", filters.HasWikidata)
	setBool(params, "isOpenAccess", filters.IsOpenAccess)
	setString(params, "sortBy", filters.SortBy)
	setString(params, "sortOrder", filters.SortOrder)

	data, err := c.fetchJSON(ctx, "journals", params)
	if err != nil {
		return internal.Page{}, err
	}

	var payload rowsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return internal.Page{}, &internal.RemoteError{Op: "journals", Err: fmt.Errorf("decode page: %w", err)}
	}

	p := internal.Pagination{Total: payload.Total, Page: payload.Page, TotalPages: payload.TotalPages}
	if p.TotalPages == 0 && p.Total > 0 && pageSize > 0 {
		p.TotalPages = (p.Total + pageSize - 1) / pageSize
	}
	if p.Page == 0 {
		p.Page = page
	}
	return internal.Page{Rows: payload.Rows, Pagination: p}, nil
}

func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("full", "1")

	data, err := c.fetchJSON(ctx, "journals/byIds", params)
	if err != nil {
		return nil, err
	}

	var payload rowsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &internal.RemoteError{Op: "journals/byIds", Err: fmt.Errorf("decode rows: %w", err)}
	}
	return payload.Rows, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.APIBaseURL, "/") + "/" + endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.APIRetriesTotal.WithLabelValues(endpoint).Inc()
			backoff := time.Duration(attempt) * c.retryBase
			c.log.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"attempt":  attempt,
				"backoff":  backoff.String(),
			}).WithError(lastErr).Warn("journal api transient error, reconnecting")
			c.resetConnections()
			if err := sleepContext(ctx, backoff); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.WaitTurn(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		status, body, err := c.do(ctx, u.String())
		metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if isTransient(err) {
				lastErr = err
				continue
			}
			metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
			return nil, &internal.RemoteError{Op: endpoint, Err: err}
		}

		if status < 200 || status >= 300 {
			metrics.APIRequestsTotal.WithLabelValues(endpoint, "http_error").Inc()
			return nil, &internal.RemoteError{Op: endpoint, StatusCode: status, Err: fmt.Errorf("body=%s", truncate(body, 300))}
		}

		var resp apiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
			return nil, &internal.RemoteError{Op: endpoint, StatusCode: status, Err: fmt.Errorf("decode envelope: %w", err)}
		}
		if !resp.Success {
			metrics.APIRequestsTotal.WithLabelValues(endpoint, "unsuccessful").Inc()
			msg := util.FirstNonEmpty(resp.Message, resp.Error, "unsuccessful response")
			return nil, &internal.RemoteError{Op: endpoint, StatusCode: status, Err: errors.New(msg)}
		}

		metrics.APIRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
		return resp.Data, nil
	}

	metrics.APIRequestsTotal.WithLabelValues(endpoint, "exhausted").Inc()
	return nil, &internal.RemoteError{Op: endpoint, Err: fmt.Errorf("giving up after %d retries: %w", c.maxRetries, lastErr)}
}

func (c *Client) do(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) resetConnections() {
	c.httpClient.CloseIdleConnections()
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "tls: bad record mac") ||
		strings.Contains(msg, "tls: unexpected message")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func setString(params url.Values, key, value string) {
	if strings.TrimSpace(value) != "" {
		params.Set(key, strings.TrimSpace(value))
	}
}

func setBool(params url.Values, key string, value *bool) {
	if value != nil {
		params.Set(key, strconv.FormatBool(*value))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
