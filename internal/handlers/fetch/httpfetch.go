package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 4 * 1024 * 1024
)

// HTTPConfig bounds the net/http fetcher.
type HTTPConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// HTTPFetcher realizes Fetcher with net/http. Requests with the
// credentials flag share a cookie jar; requests without it go through a
// jarless client so no ambient cookies leak into anonymous fetches.
type HTTPFetcher struct {
	plain   *http.Client
	withJar *http.Client
	maxBody int64
}

func NewHTTPFetcher(cfg HTTPConfig) (*HTTPFetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &HTTPFetcher{
		plain:   &http.Client{Timeout: cfg.Timeout},
		withJar: &http.Client{Timeout: cfg.Timeout, Jar: jar},
		maxBody: cfg.MaxBodyBytes,
	}, nil
}

// Fetch performs the network call and trims the response down to status,
// body text, and the final URL after redirects.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Data != "" {
		body = strings.NewReader(req.Data)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Result{}, err
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	client := f.plain
	if req.Credentials {
		client = f.withJar
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return Result{}, err
	}
	return Result{
		Status:       resp.StatusCode,
		ResponseText: string(text),
		ResponseURL:  resp.Request.URL.String(),
	}, nil
}
