// Package payer wraps the EPS affiliation webservice. Lookups are
// best-effort: the pipeline records the outcome but never fails a pass
// because the payer was unreachable.
package payer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/resilience"
)

// Afiliacion is the payer's answer for one patient document.
type Afiliacion struct {
	NumeroDocumento string        `json:"numero_documento"`
	EPSNit          string        `json:"eps_nit"`
	Activa          bool          `json:"activa"`
	Regimen         model.Regimen `json:"regimen"`
	FechaAfiliacion *time.Time    `json:"fecha_afiliacion,omitempty"`
}

// Client defines the payer operations the pipeline uses.
type Client interface {
	VerifyAfiliacion(ctx context.Context, epsNit, numeroDocumento string) (*Afiliacion, error)
}

// ClientOption configures the HTTP client.
type ClientOption func(*httpClient)

// WithRateLimit overrides the default request rate (2 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithTimeout overrides the per-request timeout (default 10s).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *httpClient) { c.http = h }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewClient creates a payer client against the given base URL. Calls are
// throttled, retried on transient failures and guarded by a circuit
// breaker so a payer outage fails fast.
func NewClient(baseURL string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(2, 2),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     time.Minute,
			ShouldTrip:       resilience.IsTransient,
		}),
		retry: resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("payer", "verify_afiliacion")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) VerifyAfiliacion(ctx context.Context, epsNit, numeroDocumento string) (*Afiliacion, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "payer: rate limit")
		}
	}

	var af *Afiliacion
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		af, err = resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Afiliacion, error) {
			return c.fetch(ctx, epsNit, numeroDocumento)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return af, nil
}

func (c *httpClient) fetch(ctx context.Context, epsNit, numeroDocumento string) (*Afiliacion, error) {
	endpoint := fmt.Sprintf("%s/api/v1/afiliados/%s?eps=%s",
		c.baseURL, url.PathEscape(numeroDocumento), url.QueryEscape(epsNit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "payer: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "payer: request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "payer: read body"), resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, eris.Errorf("payer: afiliado %s no encontrado en EPS %s", numeroDocumento, epsNit)
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("payer: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var af Afiliacion
	if err := json.Unmarshal(body, &af); err != nil {
		return nil, eris.Wrap(err, "payer: decode response")
	}
	return &af, nil
}

// Consultar runs a best-effort affiliation check and returns the audit
// record for the radicado. It never returns an error.
func Consultar(ctx context.Context, client Client, rad *model.Radicado) model.ConsultaExterna {
	consulta := model.ConsultaExterna{
		ID:         uuid.New().String(),
		RadicadoID: rad.ID,
		Tipo:       "verificacion_afiliacion",
		CreatedAt:  time.Now().UTC(),
	}

	af, err := client.VerifyAfiliacion(ctx, rad.EPSNit, rad.Paciente.NumeroDocumento)
	if err != nil {
		consulta.Error = err.Error()
		zap.L().Warn("payer: affiliation lookup failed",
			zap.String("radicado", rad.ID), zap.Error(err))
		return consulta
	}

	consulta.Exitosa = true
	if !af.Activa {
		consulta.Error = "El paciente no figura con afiliación activa en la EPS"
	}
	return consulta
}
