package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voxcode/core/pkg/events"
)

// TokenIssuer exchanges a long-lived secret for a short-lived ephemeral
// credential. It's the one network call C2 makes; everything else
// (renewal scheduling, coalescing, retry) lives in Service.
type TokenIssuer interface {
	IssueEphemeralKey(ctx context.Context) (KeyInfo, error)
}

// HTTPIssuer is the reference TokenIssuer: a POST to the configured
// endpoint carrying the long-lived secret as a bearer token, per §6.2.
type HTTPIssuer struct {
	Endpoint   string
	Secret     string
	HTTPClient *http.Client
}

// NewHTTPIssuer builds an issuer against endpoint, authenticating with
// secret. A nil http.Client falls back to http.DefaultClient.
func NewHTTPIssuer(endpoint, secret string, client *http.Client) *HTTPIssuer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPIssuer{Endpoint: endpoint, Secret: secret, HTTPClient: client}
}

func (h *HTTPIssuer) IssueEphemeralKey(ctx context.Context) (KeyInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, nil)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("build ephemeral key request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.Secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return KeyInfo{}, events.NewFault(events.DomainAuth, KindTransportError, err).WithRetryable(true)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return KeyInfo{}, events.NewFault(events.DomainAuth, KindAuthenticationFailed,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if resp.StatusCode/100 != 2 {
		return KeyInfo{}, events.NewFault(events.DomainAuth, KindIssuerError,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).WithRetryable(true)
	}

	var secret issuedSecret
	if err := json.Unmarshal(body, &secret); err != nil {
		return KeyInfo{}, events.NewFault(events.DomainAuth, KindMalformedResponse, err)
	}
	return secret.toKeyInfo(), nil
}

// Fault kinds raised by this package.
const (
	KindTransportError      events.Kind = "transport_error"
	KindAuthenticationFailed events.Kind = "authentication_failed"
	KindIssuerError         events.Kind = "issuer_error"
	KindMalformedResponse   events.Kind = "malformed_response"
	KindRenewalExhausted    events.Kind = "renewal_exhausted"
)
