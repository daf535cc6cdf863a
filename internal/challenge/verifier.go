package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verifier validates bot-verification challenge tokens against the
// challenge service's siteverify endpoint.
type Verifier struct {
	verifyURL string
	secret    string
	httpc     *http.Client
}

// NewVerifier creates a Verifier. With an empty secret, verification is
// disabled and every token passes (local development).
func NewVerifier(verifyURL, secret string) *Verifier {
	return &Verifier{
		verifyURL: verifyURL,
		secret:    secret,
		httpc:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

type verifyResponse struct {
	Success bool `json:"success"`
}

// Verify checks a challenge token. It returns false for a rejected token
// and an error only when the challenge service itself could not be asked.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if !v.Enabled() {
		return true, nil
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("calling challenge service: %w", err)
	}
	defer resp.Body.Close()

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decoding challenge response: %w", err)
	}
	return result.Success, nil
}
