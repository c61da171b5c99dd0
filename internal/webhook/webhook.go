// Package webhook authenticates and decodes provider status callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/meshgen/internal/provider"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Event is a decoded provider callback.
type Event struct {
	ExternalJobID string
	Status        string
	Progress      *int
	OutputURL     string
	Error         string
}

// Verify checks signature against the HMAC-SHA256 of body keyed by secret.
// An empty secret or signature never verifies.
func Verify(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(got, Sign(secret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way the provider sends it.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign(secret, body))
}

type payload struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Progress *float64        `json:"progress,omitempty"`
	Output   *payloadOutput  `json:"output,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

type payloadOutput struct {
	ModelFile string `json:"model_file"`
}

// Parse decodes a verified body. id and status are required.
func Parse(body []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(p.ID) == "" {
		return Event{}, fmt.Errorf("%w: missing id", ErrMalformedPayload)
	}
	if strings.TrimSpace(p.Status) == "" {
		return Event{}, fmt.Errorf("%w: missing status", ErrMalformedPayload)
	}

	ev := Event{
		ExternalJobID: p.ID,
		Status:        p.Status,
		Error:         errorText(p.Error),
	}
	if p.Progress != nil {
		v := provider.ClampProgress(*p.Progress)
		ev.Progress = &v
	}
	if p.Output != nil {
		ev.OutputURL = p.Output.ModelFile
	}
	return ev, nil
}

// errorText accepts either a JSON string or an object with a message field.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
