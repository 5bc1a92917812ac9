// Package analysis calls the optional external scoring service. Failures of
// any kind degrade to a zero score so the rule engine keeps trading on its
// own signal.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantfold/fms-engine/internal/observ"
	"github.com/quantfold/fms-engine/internal/regime"
)

const (
	requestTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 16
)

// Client posts feature vectors to the analysis endpoint. A circuit breaker
// stops hammering a dead service and a limiter keeps the call rate at most
// one per bar-ish cadence even if the engine misbehaves.
type Client struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

type response struct {
	Score   float64 `json:"Score"`
	Message string  `json:"Message"`
}

func NewClient(url string, log zerolog.Logger) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "analysis",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		log:     log.With().Str("component", "analysis").Logger(),
	}
}

// Analyze scores a feature vector. Any failure (breaker open, limiter dry,
// transport error, bad status, bad body) returns 0.0 plus the message; the
// engine treats that as a neutral ML contribution.
func (c *Client) Analyze(ctx context.Context, fv regime.FeatureVector) (float64, string) {
	if !c.limiter.Allow() {
		return c.fail("rate limited", nil)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, fv)
	})
	if err != nil {
		return c.fail("request failed", err)
	}
	resp := out.(response)
	return resp.Score, resp.Message
}

func (c *Client) post(ctx context.Context, fv regime.FeatureVector) (response, error) {
	body, err := json.Marshal(fv.Clamp())
	if err != nil {
		return response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		return response{}, fmt.Errorf("status %d", res.StatusCode)
	}

	var parsed response
	if err := json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes)).Decode(&parsed); err != nil {
		return response{}, err
	}
	return parsed, nil
}

func (c *Client) fail(msg string, err error) (float64, string) {
	observ.AnalysisFailures.Inc()
	ev := c.log.Debug().Str("reason", msg)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("analysis degraded to zero score")
	if err != nil {
		return 0.0, fmt.Sprintf("%s: %v", msg, err)
	}
	return 0.0, msg
}
