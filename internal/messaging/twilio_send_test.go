package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/lead-reengage/internal/leads"
)

func smsDelivery() Delivery {
	return Delivery{
		LeadID:         "lead-1",
		Channel:        leads.ChannelSMS,
		To:             "+15555550100",
		Text:           "Still looking in Riverside?",
		IdempotencyKey: "corr-1:1",
	}
}

func TestTwilioSenderPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "corr-1:1", r.Header.Get("I-Twilio-Idempotency-Token"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15555550100", r.PostForm.Get("To"))
		assert.Equal(t, "+15555550000", r.PostForm.Get("From"))
		assert.Equal(t, "Still looking in Riverside?", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "secret", "+15555550000", nil, WithTwilioBaseURL(srv.URL))
	receipt, err := s.Send(context.Background(), smsDelivery())
	require.NoError(t, err)
	assert.Equal(t, "twilio", receipt.Provider)
	assert.Equal(t, "SM42", receipt.ProviderMessageID)
	assert.Equal(t, "queued", receipt.Status)
	assert.False(t, receipt.SentAt.IsZero())
}

func TestTwilioSenderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM43"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "secret", "+15555550000", nil, WithTwilioBaseURL(srv.URL))
	receipt, err := s.Send(context.Background(), smsDelivery())
	require.NoError(t, err)
	assert.Equal(t, "SM43", receipt.ProviderMessageID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTwilioSenderDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "secret", "+15555550000", nil, WithTwilioBaseURL(srv.URL))
	_, err := s.Send(context.Background(), smsDelivery())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "code 21211")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTwilioSenderValidation(t *testing.T) {
	s := NewTwilioSender("", "", "", nil)
	_, err := s.Send(context.Background(), smsDelivery())
	assert.ErrorContains(t, err, "credentials missing")

	s = NewTwilioSender("AC123", "secret", "+15555550000", nil)
	d := smsDelivery()
	d.Text = "  "
	_, err = s.Send(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidDelivery)
}

func TestFormatTwilioError(t *testing.T) {
	assert.Equal(t, "status 500", formatTwilioError(500, nil))
	assert.Equal(t, "status 400: oops", formatTwilioError(400, []byte(`{"message":"oops"}`)))
	assert.Equal(t, "status 502: <html>", formatTwilioError(502, []byte("<html>")))
}

func TestTelnyxSenderPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/messages", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"id":"tx-1","to":[{"status":"queued"}]}}`))
	}))
	defer srv.Close()

	s := NewTelnyxSender("key", "profile", "+15555550000", srv.URL, nil)
	receipt, err := s.Send(context.Background(), smsDelivery())
	require.NoError(t, err)
	assert.Equal(t, "telnyx", receipt.Provider)
	assert.Equal(t, "tx-1", receipt.ProviderMessageID)
	assert.Equal(t, "queued", receipt.Status)
}

func TestTelnyxSenderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := NewTelnyxSender("key", "profile", "", srv.URL, nil)
	_, err := s.Send(context.Background(), smsDelivery())
	assert.ErrorIs(t, err, ErrRejected)
}
