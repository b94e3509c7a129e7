package planet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/sjudeng/planet-api-workshop/service"
)

const (
	// DefaultBaseURL is the root of the data API
	DefaultBaseURL = "https://api.planet.com/data/v1"
	// APIKeyEnv is the environment variable read when no api key is given explicitly
	APIKeyEnv = "PL_API_KEY"

	// The session retries 429 responses up to maxAttempts times in total,
	// sleeping backoffFactor*2^(attempt-1) seconds between attempts
	maxAttempts   = 5
	backoffFactor = 0.2
)

// basicAuthTransport authenticates every request with the api key as username and an empty password
type basicAuthTransport struct {
	apiKey            string
	originalTransport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.apiKey, "")
	return t.originalTransport.RoundTrip(req)
}

// Session is an authenticated client for the data API
// It is immutable after creation and safe for concurrent use
type Session struct {
	client   *http.Client
	baseURL  string
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	progress func(name string, written, total int64)
}

// Option configures a Session at creation
type Option func(*Session)

// WithBaseURL overrides the data API root
func WithBaseURL(u string) Option {
	return func(s *Session) { s.baseURL = u }
}

// WithHTTPClient replaces the underlying http client (its transport is wrapped to authenticate)
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

// WithClock replaces the functions used to read the clock and to wait between retries and polls
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithProgress registers a callback receiving the progress of each download
// total is the content length of the response, or -1 when unknown
func WithProgress(f func(name string, written, total int64)) Option {
	return func(s *Session) { s.progress = f }
}

// NewSession creates an authenticated session for the data API
// If apiKey is empty, it is read from the PL_API_KEY environment variable
func NewSession(apiKey string, opts ...Option) (*Session, error) {
	if apiKey == "" {
		apiKey = os.Getenv(APIKeyEnv)
	}
	if apiKey == "" {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("no api key given and %s is not set", APIKeyEnv)}
	}

	s := &Session{
		client:  &http.Client{},
		baseURL: DefaultBaseURL,
		now:     time.Now,
		sleep:   service.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}

	transport := s.client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := *s.client
	client.Transport = &basicAuthTransport{apiKey: apiKey, originalTransport: transport}
	s.client = &client

	return s, nil
}

// do issues the request, retrying 429 responses per the session policy
// Any other response is returned as is
func (s *Session) do(req *http.Request) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		reqn, err := cloneRequest(req)
		if err != nil {
			return nil, fmt.Errorf("do.CloneRequest: %w", err)
		}
		resp, err := s.client.Do(reqn)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if attempt >= maxAttempts {
			return nil, &RateLimitError{StatusCode: resp.StatusCode, Attempts: attempt}
		}
		delay := time.Duration(backoffFactor * math.Pow(2, float64(attempt-1)) * float64(time.Second))
		if serr := s.sleep(req.Context(), delay); serr != nil {
			return nil, serr
		}
	}
}

// Do issues the request through the session
// 429s are retried per the session policy, any other non-2xx response is
// drained and returned as an HttpError. The caller must close the body
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return nil, &HttpError{StatusCode: resp.StatusCode, Body: string(body)}
}

// getJSON GETs the url through the session and decodes the response body into v
func (s *Session) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("getJSON.NewRequest: %w", err)
	}
	resp, err := s.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &MalformedResponseError{Reason: err.Error()}
	}
	return nil
}

// cloneRequest returns a copy of req with a fresh body, so that it can be reissued
func cloneRequest(req *http.Request) (*http.Request, error) {
	reqn := req.Clone(req.Context())
	if req.Body != nil {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request is not replayable")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		reqn.Body = body
	}
	return reqn, nil
}
