package masking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for the classifier taxonomy. The pool decides retry
// behavior from these, the dead-letter router decides replayability.
var (
	// ErrQuotaExceeded means the service rejected the call for rate. Transient.
	ErrQuotaExceeded = errors.New("masking service quota exceeded")

	// ErrUnavailable means the service could not be reached. Transient.
	ErrUnavailable = errors.New("masking service unavailable")

	// ErrMalformedPayload means the value's shape cannot be redacted.
	ErrMalformedPayload = errors.New("value cannot be redacted")

	// ErrUnknownMethod means the policy names a method the service
	// does not implement. Permanent.
	ErrUnknownMethod = errors.New("unknown masking method")
)

// Classifier is the external classify-and-redact capability. PII detection
// itself is delegated entirely to the implementation behind this interface.
type Classifier interface {
	// Redact returns the value with sensitive content transformed per method.
	Redact(ctx context.Context, value string, method Method) (string, error)
}

// defaultInfoTypes is the inspection list sent when the service is not
// configured with a template of its own.
var defaultInfoTypes = []string{
	"EMAIL_ADDRESS",
	"PHONE_NUMBER",
	"US_SOCIAL_SECURITY_NUMBER",
	"CREDIT_CARD_NUMBER",
	"PERSON_NAME",
	"STREET_ADDRESS",
	"DATE_OF_BIRTH",
	"IP_ADDRESS",
}

// HTTPClassifier talks to the redaction service over request/response HTTP.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClassifier creates a classifier client for the given base URL.
func NewHTTPClassifier(baseURL string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type deidentifyRequest struct {
	Value     string   `json:"value"`
	Method    string   `json:"method"`
	InfoTypes []string `json:"info_types"`
}

type deidentifyResponse struct {
	Value string `json:"value"`
	Error string `json:"error,omitempty"`
}

// Redact sends one value to the service's deidentify endpoint.
func (c *HTTPClassifier) Redact(ctx context.Context, value string, method Method) (string, error) {
	reqBody, err := json.Marshal(deidentifyRequest{
		Value:     value,
		Method:    string(method),
		InfoTypes: defaultInfoTypes,
	})
	if err != nil {
		return "", fmt.Errorf("marshal deidentify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/deidentify", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create deidentify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrQuotaExceeded
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return "", ErrMalformedPayload
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded deidentifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode deidentify response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrMalformedPayload, decoded.Error)
	}

	return decoded.Value, nil
}
