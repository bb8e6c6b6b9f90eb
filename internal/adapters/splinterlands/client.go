package splinterlands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	defaultAPIBase     = "https://api2.splinterlands.com"
	defaultHistoryBase = "https://api.splinterlands.com"
	defaultBidsBase    = "https://peakmonsters.com"

	// La API pública corta a partir de ~1 req/s sostenido por IP.
	apiRatePerSec = 5
	// cards/find es la consulta cara; el matcher además la limita por minuto.
	findRatePerSec = 2
	bidsRatePerSec = 1

	settingsTTL = 5 * time.Minute
	catalogTTL  = time.Hour

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config son los base URLs de las APIs. Vacío usa producción.
type Config struct {
	APIBase     string
	HistoryBase string
	BidsBase    string
	Timeout     time.Duration
}

// Client es el HTTP client del mercado con rate limiting, retries y cache de
// settings y catálogo.
type Client struct {
	http        *http.Client
	apiBase     string
	historyBase string
	bidsBase    string
	apiLimiter  *rate.Limiter
	findLimiter *rate.Limiter
	bidsLimiter *rate.Limiter
	cache       *cache.Cache
}

// NewClient crea un Client.
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.HistoryBase == "" {
		cfg.HistoryBase = defaultHistoryBase
	}
	if cfg.BidsBase == "" {
		cfg.BidsBase = defaultBidsBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		apiBase:     cfg.APIBase,
		historyBase: cfg.HistoryBase,
		bidsBase:    cfg.BidsBase,
		apiLimiter:  rate.NewLimiter(apiRatePerSec, 10),
		findLimiter: rate.NewLimiter(findRatePerSec, 4),
		bidsLimiter: rate.NewLimiter(bidsRatePerSec, 2),
		cache:       cache.New(settingsTTL, 10*time.Minute),
	}
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("splinterlands: rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
