package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edvin/certverify/internal/domainerr"
)

// HTTP anchors proofs by POSTing them to a ledger gateway that answers with
// a transaction id.
type HTTP struct {
	httpClient *http.Client
	endpoint   string
	token      string
	now        func() time.Time
}

func NewHTTP(endpoint, token string, timeout time.Duration) *HTTP {
	return &HTTP{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		token:      token,
		now:        time.Now,
	}
}

func (h *HTTP) Backend() string { return "http" }

type anchorResponse struct {
	TxID string `json:"txId"`
}

func (h *HTTP) Anchor(ctx context.Context, proof Proof) (Receipt, error) {
	payload, err := json.Marshal(proof)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal proof: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("create anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", proof.CertificateID)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Receipt{}, domainerr.Upstream(err, "anchor proof")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		cause := fmt.Errorf("ledger status %d: %s", resp.StatusCode, body)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Receipt{}, domainerr.ErrUpstreamRejected.Because(cause, "anchor proof")
		}
		return Receipt{}, domainerr.ErrUpstreamUnavailable.Because(cause, "anchor proof")
	}

	var out anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, domainerr.ErrUpstreamUnavailable.Because(err, "decode anchor response")
	}
	if out.TxID == "" {
		return Receipt{}, domainerr.ErrUpstreamUnavailable.Because(errors.New("empty txId"), "anchor proof")
	}
	return Receipt{Backend: "http", Reference: out.TxID, AnchoredAt: h.now().UTC()}, nil
}
