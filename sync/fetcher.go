// ABOUTME: CDR record fetcher for the Webex Analytics API
// ABOUTME: Handles windowed queries, pagination, rate limits, and auth refresh
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/harperreed/cdrsync/models"
)

const (
	// DefaultBaseURL is the Webex CDR feed endpoint.
	DefaultBaseURL = "https://analytics.webexapis.com/v1/cdr_feed"

	// maxRecordsPerPage is the current API page-size limit.
	maxRecordsPerPage = 500
	// maxLocationFilters is the API cap on the locations parameter;
	// excess entries are silently truncated, not rejected.
	maxLocationFilters = 10

	maxAttempts       = 3
	defaultRetryDelay = 2 * time.Second
	defaultRetryAfter = 60 * time.Second
	requestTimeout    = 30 * time.Second
)

// WindowError reports a window whose retries were exhausted. A failed
// window never blocks its siblings; the orchestrator decides how far the
// checkpoint may advance.
type WindowError struct {
	Window TimeRange
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window %s: %v", e.Window, e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}

// FetchResult accumulates everything a fetch produced, including
// per-window failures. Partial results are kept so already-fetched
// records can still be persisted.
type FetchResult struct {
	Records      []models.CDRRecord
	APICalls     int
	Windows      []TimeRange
	WindowErrors []*WindowError
	SkippedItems int
}

// Failed reports whether any window could not be fetched.
func (r *FetchResult) Failed() bool {
	return len(r.WindowErrors) > 0
}

// Diagnostics go to stderr; swappable so tests can stay quiet.
var errWriter io.Writer = os.Stderr

// Fetcher retrieves CDR records from the analytics API, splitting
// requests into windows no longer than the API's maximum span.
type Fetcher struct {
	BaseURL    string
	Client     *http.Client
	Auth       TokenProvider
	RetryDelay time.Duration

	// sleep is swappable in tests so retry waits don't stall the suite
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher with production defaults.
func NewFetcher(auth TokenProvider) *Fetcher {
	return &Fetcher{
		BaseURL:    DefaultBaseURL,
		Client:     &http.Client{Timeout: requestTimeout},
		Auth:       auth,
		RetryDelay: defaultRetryDelay,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FetchRange fetches all records in r, split into windows of at most
// MaxQuerySpan. Each window is fetched independently; a fatal failure in
// one window is recorded in the result and the remaining windows still
// run. The returned error is non-nil only when the whole fetch must stop
// (context cancelled).
func (f *Fetcher) FetchRange(ctx context.Context, r TimeRange, locations []string) (*FetchResult, error) {
	windows := SplitRange(r, MaxQuerySpan)

	result := &FetchResult{Windows: windows}

	fmt.Printf("Fetching CDR records from %s\n", r)
	fmt.Printf("Time range split into %d window(s) of max %v each\n", len(windows), MaxQuerySpan)

	for i, w := range windows {
		fmt.Printf("  → Fetching window %d/%d: %s\n", i+1, len(windows), w)

		records, apiCalls, skipped, err := f.fetchWindow(ctx, w, locations)
		result.APICalls += apiCalls
		result.SkippedItems += skipped
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			fmt.Printf("    window failed: %v\n", err)
			result.WindowErrors = append(result.WindowErrors, &WindowError{Window: w, Err: err})
			continue
		}

		result.Records = append(result.Records, records...)
		fmt.Printf("    retrieved %d records in %d API call(s)\n", len(records), apiCalls)
	}

	return result, nil
}

// apiPage is the response shape of the CDR feed. The live API returns a
// single page per window; next is consumed if the API ever grows a
// continuation token.
type apiPage struct {
	Items []map[string]any `json:"items"`
	Next  string           `json:"next"`
}

// fetchWindow fetches one window (≤ MaxQuerySpan), following pagination
// until no continuation remains.
func (f *Fetcher) fetchWindow(ctx context.Context, w TimeRange, locations []string) ([]models.CDRRecord, int, int, error) {
	var records []models.CDRRecord
	apiCalls := 0
	skipped := 0
	next := ""

	for {
		page, calls, err := f.fetchPage(ctx, w, locations, next)
		apiCalls += calls
		if err != nil {
			return records, apiCalls, skipped, err
		}

		for _, item := range page.Items {
			rec, ok := models.ParseCDRItem(item)
			if !ok {
				skipped++
				continue
			}
			records = append(records, rec)
		}

		if page.Next == "" {
			return records, apiCalls, skipped, nil
		}
		next = page.Next
	}
}

// fetchPage performs one logical page fetch with the full retry ladder:
// 429 waits out Retry-After without consuming the retry budget, 401
// triggers one token refresh, and transient failures retry up to
// maxAttempts with linearly increasing backoff. The second return value
// is the number of HTTP calls actually made.
func (f *Fetcher) fetchPage(ctx context.Context, w TimeRange, locations []string, next string) (*apiPage, int, error) {
	reqURL, err := f.buildURL(w, locations, next)
	if err != nil {
		return nil, 0, err
	}

	attempt := 1
	authRetried := false
	calls := 0

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, calls, err
		}
		for k, v := range f.Auth.Headers() {
			req.Header.Set(k, v)
		}

		resp, err := f.Client.Do(req)
		calls++
		if err != nil {
			if ctx.Err() != nil {
				return nil, calls, ctx.Err()
			}
			// Timeout or other transient I/O failure
			if attempt >= maxAttempts {
				return nil, calls, fmt.Errorf("request failed after %d attempts: %w", attempt, err)
			}
			fmt.Fprintf(errWriter, "Request failed (attempt %d/%d): %v\n", attempt, maxAttempts, err)
			if serr := f.sleep(ctx, time.Duration(attempt)*f.RetryDelay); serr != nil {
				return nil, calls, serr
			}
			attempt++
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			drainBody(resp)
			fmt.Fprintf(errWriter, "Rate limited. Waiting %v...\n", retryAfter)
			// Rate-limit waits don't count against the retry budget
			if serr := f.sleep(ctx, retryAfter); serr != nil {
				return nil, calls, serr
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized:
			drainBody(resp)
			if authRetried {
				return nil, calls, errors.New("access token rejected after refresh")
			}
			fmt.Fprintln(errWriter, "Access token expired. Refreshing...")
			if err := f.Auth.Refresh(ctx); err != nil {
				return nil, calls, fmt.Errorf("token refresh failed: %w", err)
			}
			authRetried = true
			continue

		case resp.StatusCode >= 500:
			body := readBodySnippet(resp)
			if attempt >= maxAttempts {
				return nil, calls, fmt.Errorf("server error %d after %d attempts: %s", resp.StatusCode, attempt, body)
			}
			fmt.Fprintf(errWriter, "Server error %d (attempt %d/%d)\n", resp.StatusCode, attempt, maxAttempts)
			if serr := f.sleep(ctx, time.Duration(attempt)*f.RetryDelay); serr != nil {
				return nil, calls, serr
			}
			attempt++
			continue

		case resp.StatusCode != http.StatusOK:
			body := readBodySnippet(resp)
			return nil, calls, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
		}

		var page apiPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, calls, fmt.Errorf("failed to decode response: %w", err)
		}
		return &page, calls, nil
	}
}

func (f *Fetcher) buildURL(w TimeRange, locations []string, next string) (string, error) {
	// A continuation token is a complete URL handed back by the API
	if next != "" {
		return next, nil
	}

	u, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	params := url.Values{}
	params.Set("startTime", FormatTimestamp(w.Start))
	params.Set("endTime", FormatTimestamp(w.End))
	params.Set("max", strconv.Itoa(maxRecordsPerPage))

	if len(locations) > 0 {
		// API accepts at most 10 comma-separated location names;
		// excess entries are truncated, not an error
		if len(locations) > maxLocationFilters {
			locations = locations[:maxLocationFilters]
		}
		params.Set("locations", strings.Join(locations, ","))
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func readBodySnippet(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
	return strings.TrimSpace(string(data))
}
