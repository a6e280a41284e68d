package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

const defaultTelnyxBaseURL = "https://api.telnyx.com"

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	from               string
	baseURL            string
	httpClient         *http.Client
	logger             *logging.Logger
}

// NewTelnyxSender builds a sender for Telnyx V2 API. An empty baseURL uses
// the public API host.
func NewTelnyxSender(apiKey, messagingProfileID, from, baseURL string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	if baseURL == "" {
		baseURL = defaultTelnyxBaseURL
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		from:               from,
		baseURL:            strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ Sender = (*TelnyxSender)(nil)

// Send dispatches a single SMS via Telnyx V2 API, retrying transient failures.
func (s *TelnyxSender) Send(ctx context.Context, d Delivery) (Receipt, error) {
	if s.apiKey == "" {
		return Receipt{}, errors.New("messaging: telnyx api key missing")
	}
	if s.from == "" && s.messagingProfileID == "" {
		return Receipt{}, errors.New("messaging: from or messaging profile required")
	}
	if err := d.Validate(); err != nil {
		return Receipt{}, err
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("reengage.lead_id", d.LeadID),
		attribute.String("reengage.idempotency_key", d.IdempotencyKey),
	)

	payload := map[string]any{
		"to":   d.To,
		"text": d.Text,
	}
	if s.from != "" {
		payload["from"] = s.from
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("messaging: failed to marshal telnyx payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/messages", bytes.NewReader(bodyBytes))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				receipt := Receipt{Provider: "telnyx", Status: "queued", SentAt: time.Now().UTC()}
				var parsed struct {
					Data struct {
						ID string `json:"id"`
						To []struct {
							Status string `json:"status"`
						} `json:"to"`
					} `json:"data"`
				}
				if err := json.Unmarshal(body, &parsed); err == nil {
					receipt.ProviderMessageID = parsed.Data.ID
					if len(parsed.Data.To) > 0 && parsed.Data.To[0].Status != "" {
						receipt.Status = parsed.Data.To[0].Status
					}
				}
				s.logger.Info("telnyx sms sent", "lead_id", d.LeadID, "message_id", receipt.ProviderMessageID)
				return receipt, nil
			}
			lastErr = fmt.Errorf("telnyx send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				lastErr = fmt.Errorf("%w: %v", ErrRejected, lastErr)
				break
			}
		}

		if attempt < 3 {
			if err := sleepJitter(ctx); err != nil {
				lastErr = err
				break
			}
		}
	}

	span.RecordError(lastErr)
	s.logger.Error("failed to send telnyx sms", "error", lastErr, "lead_id", d.LeadID)
	return Receipt{}, fmt.Errorf("messaging: %w", lastErr)
}
