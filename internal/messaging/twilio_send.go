package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

var twilioSendTracer = otel.Tracer("reengage/messaging")

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// TwilioOption customizes a TwilioSender.
type TwilioOption func(*TwilioSender)

// WithTwilioBaseURL points the sender at another API host.
func WithTwilioBaseURL(u string) TwilioOption {
	return func(s *TwilioSender) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithTwilioHTTPClient replaces the HTTP client.
func WithTwilioHTTPClient(c *http.Client) TwilioOption {
	return func(s *TwilioSender) { s.httpClient = c }
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger, opts ...TwilioOption) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	s := &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Sender = (*TwilioSender)(nil)

// Send dispatches a single SMS, retrying transient failures.
func (s *TwilioSender) Send(ctx context.Context, d Delivery) (Receipt, error) {
	if s.accountSID == "" || s.authToken == "" {
		return Receipt{}, errors.New("messaging: twilio credentials missing")
	}
	if s.from == "" {
		return Receipt{}, errors.New("messaging: from required")
	}
	if err := d.Validate(); err != nil {
		return Receipt{}, err
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("reengage.lead_id", d.LeadID),
		attribute.String("reengage.idempotency_key", d.IdempotencyKey),
	)

	payload := url.Values{}
	payload.Set("To", d.To)
	payload.Set("From", s.from)
	payload.Set("Body", d.Text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if d.IdempotencyKey != "" {
			req.Header.Set("I-Twilio-Idempotency-Token", d.IdempotencyKey)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				receipt := Receipt{Provider: "twilio", Status: "queued", SentAt: time.Now().UTC()}
				var parsed struct {
					SID    string `json:"sid"`
					Status string `json:"status"`
				}
				if err := json.Unmarshal(body, &parsed); err == nil {
					receipt.ProviderMessageID = parsed.SID
					if parsed.Status != "" {
						receipt.Status = parsed.Status
					}
				}
				s.logger.Info("twilio sms sent", "lead_id", d.LeadID, "sid", receipt.ProviderMessageID)
				return receipt, nil
			}
			lastErr = fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
			// Don't retry non-rate-limit 4xx errors.
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
	return Receipt{}, fmt.Errorf("messaging: %w", lastErr)
}

// SendSMS sends a plain SMS without lead bookkeeping.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	return SMSNotifier{Sender: s}.SendSMS(ctx, to, body)
}

func sleepJitter(ctx context.Context) error {
	t := time.NewTimer(time.Duration(200+rand.Intn(300)) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}
