package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

// HTTPSender posts notifications to a provider gateway as JSON. One
// instance per channel; the concrete provider wire protocol stays behind
// the gateway URL.
type HTTPSender struct {
	channel  models.Channel
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPSender(channel models.Channel, endpoint, apiKey string) *HTTPSender {
	return &HTTPSender{
		channel:  channel,
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *HTTPSender) Channel() models.Channel {
	return s.channel
}

type providerRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type providerResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (s *HTTPSender) Send(ctx context.Context, address string, msg Message) (Result, error) {
	payload, err := json.Marshal(providerRequest{
		To:      address,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("error encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("error while doing request: %w", err))
	}
	defer resp.Body.Close()

	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode == http.StatusOK {
		return Result{}, Transient(fmt.Errorf("error decoding resp.Body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return Result{ProviderMessageID: body.MessageID}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, Transient(fmt.Errorf("provider returned %d: %s", resp.StatusCode, body.Error))
	default:
		// 4xx: bad address, rejected payload. Retrying cannot help.
		return Result{}, Permanent(fmt.Errorf("provider returned %d: %s", resp.StatusCode, body.Error))
	}
}

// VoiceSender adds call cancellation on top of the HTTP gateway. A call
// not yet connected can be abandoned when the alert gets acknowledged.
type VoiceSender struct {
	*HTTPSender
	cancelEndpoint string
}

func NewVoiceSender(endpoint, cancelEndpoint, apiKey string) *VoiceSender {
	return &VoiceSender{
		HTTPSender:     NewHTTPSender(models.ChannelVoice, endpoint, apiKey),
		cancelEndpoint: cancelEndpoint,
	}
}

func (s *VoiceSender) CancelCall(ctx context.Context, providerMessageID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		s.cancelEndpoint+"/"+providerMessageID, nil)
	if err != nil {
		return fmt.Errorf("error creating cancel request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error cancelling call: %w", err)
	}
	defer resp.Body.Close()

	// 404 means the call already connected or completed; that is fine,
	// cancellation is best-effort.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("cancel returned unexpected status: %d", resp.StatusCode)
	}
	return nil
}
