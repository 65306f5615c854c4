package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"video_archiver/internal/domain"
	"video_archiver/internal/metrics"
)

const (
	SourceID   = "bilibili"
	SourceName = "Bilibili"

	searchPath = "/x/space/wbi/arc/search"
	viewPath   = "/x/web-interface/view"
	tagPath    = "/x/web-interface/view/detail/tag"
)

// Envelope codes the platform uses for throttling and risk control.
const (
	codeRequestBlocked = -412
	codeTooFrequent    = -799
	codeRiskControl    = -352
)

type Pacer interface {
	Wait(ctx context.Context) error
}

type Signer interface {
	Sign(ctx context.Context, params url.Values) (url.Values, error)
	Invalidate()
}

// Config holds Bilibili source configuration.
type Config struct {
	BaseURL        string
	UserAgent      string
	Cookie         string
	PageSize       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source retrieves catalogs and part lists from the Bilibili web API.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	cookie         string
	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	pacer          Pacer
	signer         Signer
	logger         *slog.Logger
}

// New creates a new Bilibili source.
func New(cfg Config, pacer Pacer, signer Signer, logger *slog.Logger) *Source {
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		userAgent:      cfg.UserAgent,
		cookie:         cfg.Cookie,
		pageSize:       cfg.PageSize,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		pacer:          pacer,
		signer:         signer,
		logger:         logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// get issues a signed, paced GET and decodes the envelope's data into out.
// Transient failures are retried; once the attempts are exhausted the last
// error is returned wrapped in ErrPermanentFetch as well.
func (s *Source) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.doRequest(ctx, endpoint, params, out)
		if err == nil {
			metrics.APIRequests.WithLabelValues(endpoint, "ok").Inc()
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, domain.ErrSigningUnavailable) {
			return err
		}
		if !errors.Is(err, domain.ErrTransientFetch) {
			metrics.APIRequests.WithLabelValues(endpoint, "permanent").Inc()
			return err
		}

		metrics.APIRequests.WithLabelValues(endpoint, "transient").Inc()
		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		metrics.APIRetries.WithLabelValues(endpoint).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: after %d attempts: %w", domain.ErrPermanentFetch, s.maxAttempts, err)
}

func (s *Source) doRequest(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := s.pacer.Wait(ctx); err != nil {
		return err
	}

	signed, err := s.signer.Sign(ctx, params)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint+"?"+signed.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", domain.ErrPermanentFetch, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Referer", "https://www.bilibili.com/")
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return classifyNetError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if isRetryableStatus(resp.StatusCode) {
			return fmt.Errorf("%w: unexpected status: %d", domain.ErrTransientFetch, resp.StatusCode)
		}
		return fmt.Errorf("%w: unexpected status: %d", domain.ErrPermanentFetch, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrPermanentFetch, err)
	}

	switch env.Code {
	case 0:
	case codeRiskControl:
		// A rejected signature usually means the keys rotated early.
		s.signer.Invalidate()
		return fmt.Errorf("%w: api code %d: %s", domain.ErrTransientFetch, env.Code, env.Message)
	case codeRequestBlocked, codeTooFrequent:
		return fmt.Errorf("%w: api code %d: %s", domain.ErrTransientFetch, env.Code, env.Message)
	default:
		return fmt.Errorf("%w: api code %d: %s", domain.ErrPermanentFetch, env.Code, env.Message)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: response without data", domain.ErrPermanentFetch)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %w", domain.ErrPermanentFetch, err)
	}

	return nil
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

// isRetryableStatus returns true for HTTP status codes worth retrying.
// 412 is the platform's throttling answer.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusPreconditionFailed, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func classifyNetError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: execute request: %w", domain.ErrTransientFetch, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// connection resets and EOFs surface as plain url.Error
		return fmt.Errorf("%w: execute request: %w", domain.ErrTransientFetch, err)
	}
	return fmt.Errorf("%w: execute request: %w", domain.ErrPermanentFetch, err)
}
