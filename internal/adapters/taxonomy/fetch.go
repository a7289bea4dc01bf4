package taxonomy

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxDocumentBytes = 8 << 20

var (
	ErrNotFound     = errors.New("taxonomy source: not found")
	ErrUnauthorized = errors.New("taxonomy source: unauthorized")
	ErrForbidden    = errors.New("taxonomy source: forbidden")
)

// Fetcher downloads taxonomy documents published over HTTP.
type Fetcher struct {
	hc    *http.Client
	token string
	rl    *rate.Limiter
}

func NewFetcher(token string, rps int) *Fetcher {
	if rps <= 0 {
		rps = 5
	}
	return &Fetcher{
		hc:    &http.Client{Timeout: 20 * time.Second},
		token: token,
		rl:    rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Fetch performs a GET with client-side rate limiting and retries, returning
// the raw body. Retries on 429 and transient 5xx, honoring Retry-After.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if f.token != "" {
			req.Header.Set("Authorization", "Bearer "+f.token)
		}
		req.Header.Set("Accept", "application/yaml, application/json")
		req.Header.Set("User-Agent", "dna-importer/1.0")

		resp, err := f.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, lastErr
		}

		switch resp.StatusCode {
		case http.StatusOK:
			b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			if len(b) > maxDocumentBytes {
				return nil, fmt.Errorf("taxonomy document exceeds %d bytes", maxDocumentBytes)
			}
			return b, nil

		case http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return nil, ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return nil, lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). 0 if absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 200ms per attempt with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
