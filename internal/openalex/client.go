package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/matsen/citewatch/internal/observability"
	"github.com/matsen/citewatch/internal/work"
)

const (
	// BaseURL is the OpenAlex API base URL.
	BaseURL = "https://api.openalex.org"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultPerPage is the page size for citation listings. OpenAlex allows up to 200;
	// smaller pages keep the client inside the anonymous rate budget.
	DefaultPerPage = 50

	// MaxPerPage is the largest page size OpenAlex accepts.
	MaxPerPage = 200

	// DefaultRequestInterval is the minimum delay between two requests.
	DefaultRequestInterval = time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the first backoff delay; later delays double.
	DefaultRetryBaseDelay = time.Second

	// MaxRetryDelay caps any single backoff delay, including Retry-After hints.
	MaxRetryDelay = time.Minute

	// DefaultUserAgent identifies the client when no contact address is configured.
	DefaultUserAgent = "citewatch/1.0"

	// maxBodyBytes bounds response bodies.
	maxBodyBytes = 32 << 20

	// initialCursor starts a cursor traversal.
	initialCursor = "*"
)

// Client is a rate-limited, retrying HTTP client for the OpenAlex API.
type Client struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	baseURL        string
	mailto         string
	userAgent      string
	perPage        int
	maxRetries     int
	retryBaseDelay time.Duration
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMailto sets the contact address sent for the polite pool.
func WithMailto(addr string) ClientOption {
	return func(c *Client) {
		c.mailto = strings.TrimSpace(addr)
	}
}

// WithUserAgent overrides the User-Agent product token.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithPerPage sets the listing page size, clamped to [1, MaxPerPage].
func WithPerPage(n int) ClientOption {
	return func(c *Client) {
		c.perPage = min(max(n, 1), MaxPerPage)
	}
}

// WithRequestInterval sets the minimum delay between requests. Zero disables pacing.
func WithRequestInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetry sets the retry budget and the first backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max(maxRetries, 0)
		if baseDelay > 0 {
			c.retryBaseDelay = baseDelay
		}
	}
}

// WithLogger sets the logger used for page and retry events.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics attaches run metrics.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new OpenAlex client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		limiter:        rate.NewLimiter(rate.Every(DefaultRequestInterval), 1),
		baseURL:        BaseURL,
		userAgent:      DefaultUserAgent,
		perPage:        DefaultPerPage,
		maxRetries:     DefaultMaxRetries,
		retryBaseDelay: DefaultRetryBaseDelay,
		logger:         zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ResolveDOI looks up the work with the given DOI. It tries the exact
// external-ID endpoint first and falls back to a DOI filter query.
// The returned work always carries a cited_by_api_url.
func (c *Client) ResolveDOI(ctx context.Context, doi string) (*RawWork, error) {
	norm := work.NormalizeDOI(doi)
	if !work.ValidDOI(norm) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDOI, doi)
	}

	raw, err := c.getWork(ctx, norm)
	if IsNotFound(err) {
		c.logger.Debug().Str("doi", norm).Msg("exact lookup missed, trying filter query")
		raw, err = c.searchDOI(ctx, norm)
	}
	if err != nil {
		return nil, err
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("%w: work for DOI %s has no id", ErrInvalidResponse, norm)
	}
	if raw.CitedByAPIURL == "" {
		return nil, fmt.Errorf("%w: work %s has no cited_by_api_url", ErrInvalidResponse, raw.ID)
	}

	c.logger.Info().
		Str("work_id", raw.ID).
		Str("title", raw.displayTitle()).
		Int("cited_by_count", raw.CitedByCount).
		Msg("resolved target work")
	return raw, nil
}

func (c *Client) getWork(ctx context.Context, doi string) (*RawWork, error) {
	u, err := c.endpoint("/works/doi:"+doi, nil)
	if err != nil {
		return nil, err
	}

	data, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}

	var raw RawWork
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing work: %v", ErrInvalidResponse, err)
	}
	return &raw, nil
}

func (c *Client) searchDOI(ctx context.Context, doi string) (*RawWork, error) {
	u, err := c.endpoint("/works", url.Values{"filter": {"doi:" + doi}})
	if err != nil {
		return nil, err
	}

	data, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: parsing search results: %v", ErrInvalidResponse, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, doi)
	}

	var raw RawWork
	if err := json.Unmarshal(resp.Results[0], &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing work: %v", ErrInvalidResponse, err)
	}
	return &raw, nil
}

// Page is one decoded page of a citation listing.
type Page struct {
	Works      []work.Work
	Skipped    int    // Malformed records dropped from this page
	Received   int    // Records the server returned, including skipped ones
	NextCursor string // Empty when the traversal is complete
}

// FetchPage requests one page of the listing at citedByURL.
func (c *Client) FetchPage(ctx context.Context, citedByURL, cursor string) (*Page, error) {
	pageURL, err := c.pageURL(citedByURL, cursor)
	if err != nil {
		return nil, err
	}

	data, err := c.getJSON(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: parsing page: %v", ErrInvalidResponse, err)
	}

	page := &Page{
		Works:    make([]work.Work, 0, len(resp.Results)),
		Received: len(resp.Results),
	}
	if resp.Meta.NextCursor != nil {
		page.NextCursor = *resp.Meta.NextCursor
	}

	for i, msg := range resp.Results {
		var raw RawWork
		if err := json.Unmarshal(msg, &raw); err != nil {
			page.Skipped++
			c.logger.Warn().Err(err).Str("cursor", cursor).Int("index", i).Msg("skipping malformed record")
			continue
		}
		if raw.ID == "" {
			page.Skipped++
			c.logger.Warn().Str("cursor", cursor).Int("index", i).Msg("skipping record without id")
			continue
		}
		page.Works = append(page.Works, raw.ToWork())
	}

	c.metrics.ObservePage(len(page.Works), page.Skipped)
	return page, nil
}

// Citations walks the cursor-paginated listing at citedByURL and yields
// every citing work in page order. Each iteration starts a fresh traversal
// from the first page. Iteration stops at the first error, which is yielded.
func (c *Client) Citations(ctx context.Context, citedByURL string) iter.Seq2[work.Work, error] {
	return func(yield func(work.Work, error) bool) {
		cursor := initialCursor
		total := 0
		for pageNum := 1; ; pageNum++ {
			page, err := c.FetchPage(ctx, citedByURL, cursor)
			if err != nil {
				yield(work.Work{}, fmt.Errorf("fetching page %d: %w", pageNum, err))
				return
			}

			total += len(page.Works)
			c.logger.Info().
				Int("page", pageNum).
				Int("records", page.Received).
				Int("skipped", page.Skipped).
				Int("total", total).
				Msg("fetched citation page")

			for _, w := range page.Works {
				if !yield(w, nil) {
					return
				}
			}

			if page.NextCursor == "" || page.Received == 0 {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// pageURL adds paging, projection and contact parameters to the listing URL.
func (c *Client) pageURL(citedByURL, cursor string) (string, error) {
	u, err := url.Parse(citedByURL)
	if err != nil {
		return "", fmt.Errorf("%w: parsing cited_by_api_url: %v", ErrInvalidResponse, err)
	}

	q := u.Query()
	q.Set("per-page", strconv.Itoa(c.perPage))
	q.Set("cursor", cursor)
	q.Set("select", strings.Join(selectFields, ","))
	if c.mailto != "" {
		q.Set("mailto", c.mailto)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) endpoint(path string, q url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path

	if c.mailto != "" {
		if q == nil {
			q = url.Values{}
		}
		q.Set("mailto", c.mailto)
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// getJSON fetches rawURL, pacing requests through the limiter and retrying
// transient failures with exponential backoff.
func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	attempts := 0
	pacing := newRetryAfterBackOff(c.retryBaseDelay)

	op := func() error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		data, retryAfter, err := c.do(ctx, rawURL)
		if err == nil {
			c.metrics.ObserveRequest("ok")
			body = data
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if !isTransient(err) {
			c.metrics.ObserveRequest("error")
			return backoff.Permanent(err)
		}

		c.metrics.ObserveRequest("retry")
		pacing.hint(retryAfter)
		return err
	}

	notify := func(err error, delay time.Duration) {
		c.metrics.ObserveRetry()
		c.logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("delay", delay).
			Str("url", rawURL).
			Msg("transient API failure, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(pacing, uint64(c.maxRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
		}
		return nil, err
	}
	return body, nil
}

// do performs a single GET. The returned duration is the server's Retry-After hint.
func (c *Client) do(ctx context.Context, rawURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgentHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			URL:        rawURL,
			Message:    strings.TrimSpace(string(msg)),
		}
		hint := parseRetryAfter(resp.Header.Get("Retry-After"))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, hint, fmt.Errorf("%w: %w", ErrRateLimited, apiErr)
		}
		return nil, hint, apiErr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)
	}
	return data, 0, nil
}

func (c *Client) userAgentHeader() string {
	if c.mailto == "" {
		return c.userAgent
	}
	return fmt.Sprintf("%s (mailto:%s)", c.userAgent, c.mailto)
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if errors.Is(err, ErrNetworkError) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && retryableStatus(apiErr.StatusCode)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
