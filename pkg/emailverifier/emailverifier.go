// Package emailverifier adapts the deliverability-verification API (spec
// §4.4 EmailVerifier contract): a single-email GET endpoint authenticated via
// an x-api-key header, with no synchronous batch endpoint — batches are
// verified serially with a fixed inter-request spacing.
package emailverifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/internal/rategovernor"
	"github.com/sells-group/leadgen-engine/internal/resilience"
)

// ServiceName is the RateGovernor bucket key for verification calls.
const ServiceName = "verifier"

// BatchSpacing is the fixed delay between consecutive single-email requests
// in VerifyBatch — the provider has no sync batch endpoint (spec §4.4).
const BatchSpacing = 100 * time.Millisecond

// Config parameterises a Verifier.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Governor   *rategovernor.Governor
	Retry      resilience.RetryConfig
}

// Verifier is the EmailVerifier adapter.
type Verifier struct {
	cfg Config
}

// New builds a Verifier, applying documented defaults for zero fields.
func New(cfg Config) *Verifier {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Verifier{cfg: cfg}
}

type verifyResponse struct {
	Email     string `json:"email"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
	Domain    string `json:"domain"`
	Provider  string `json:"provider"`
	MXFound   bool   `json:"mx_found"`
	SMTPCheck bool   `json:"smtp_check"`
	Risk      struct {
		Disposable bool `json:"is_disposable"`
		RoleBased  bool `json:"is_role_based"`
		Free       bool `json:"is_free"`
		Gibberish  bool `json:"is_gibberish"`
	} `json:"risk"`
}

// Verify checks a single email address's deliverability.
func (v *Verifier) Verify(ctx context.Context, email string) (model.VerificationResult, error) {
	if v.cfg.Governor != nil {
		if err := v.cfg.Governor.WaitForService(ctx, ServiceName); err != nil {
			return model.VerificationResult{}, err
		}
	}

	url := fmt.Sprintf("%s/email/verify?email=%s", v.cfg.BaseURL, urlEscape(email))

	var resp verifyResponse
	err := resilience.Do(ctx, v.cfg.Retry, func(ctx context.Context) error {
		return v.doJSON(ctx, url, &resp)
	})
	if err != nil {
		return model.VerificationResult{
			Email:  email,
			Status: model.VerificationError,
		}, eris.Wrapf(err, "emailverifier: verify %s", email)
	}

	return model.VerificationResult{
		Email:     email,
		Status:    model.VerificationStatus(resp.Status),
		Score:     resp.Score,
		Domain:    resp.Domain,
		Provider:  resp.Provider,
		MXFound:   resp.MXFound,
		SMTPCheck: resp.SMTPCheck,
		Risk: model.RiskFlags{
			IsDisposable: resp.Risk.Disposable,
			IsRoleBased:  resp.Risk.RoleBased,
			IsFree:       resp.Risk.Free,
			IsGibberish:  resp.Risk.Gibberish,
		},
	}, nil
}

// VerifyBatch verifies each email serially, spaced BatchSpacing apart,
// since the provider exposes no synchronous batch endpoint. Results are
// returned in input order; a per-item failure produces a VerificationError
// result rather than aborting the batch.
func (v *Verifier) VerifyBatch(ctx context.Context, emails []string) []model.VerificationResult {
	out := make([]model.VerificationResult, 0, len(emails))
	for i, email := range emails {
		if ctx.Err() != nil {
			out = append(out, model.VerificationResult{Email: email, Status: model.VerificationError})
			continue
		}

		result, err := v.Verify(ctx, email)
		if err != nil {
			out = append(out, model.VerificationResult{Email: email, Status: model.VerificationError})
		} else {
			out = append(out, result)
		}

		if i < len(emails)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(BatchSpacing):
			}
		}
	}
	return out
}

func (v *Verifier) doJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "emailverifier: build request")
	}
	req.Header.Set("x-api-key", v.cfg.APIKey)

	resp, err := v.cfg.HTTPClient.Do(req)
	if err != nil {
		return resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(eris.Errorf("emailverifier: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("emailverifier: status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func urlEscape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "+", "%2B"), " ", "%20")
}
