package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/lead-reengage/internal/config"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/messaging"
	"github.com/wolfman30/lead-reengage/internal/notify"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

func TestBuildRepository(t *testing.T) {
	logger := logging.Discard()
	in := &infra{}

	repo, err := buildRepository(&appconfig.Config{StoreBackend: "memory"}, in, logger)
	require.NoError(t, err)
	assert.IsType(t, &leads.InMemoryRepository{}, repo)

	_, err = buildRepository(&appconfig.Config{StoreBackend: "dynamo"}, in, logger)
	assert.Error(t, err, "dynamo needs a table")

	_, err = buildRepository(&appconfig.Config{StoreBackend: "cassandra"}, in, logger)
	assert.Error(t, err)
}

func TestBuildEmailWithoutProvidersIsStub(t *testing.T) {
	sender, name := buildEmail(&appconfig.Config{EmailProvider: "sendgrid"}, &infra{}, logging.Discard())
	assert.Equal(t, "stub", name)
	assert.IsType(t, &notify.StubEmailSender{}, sender)
}

func TestBuildSendersFallsBackToLog(t *testing.T) {
	cfg := &appconfig.Config{SMSProvider: "auto", SMSRatePerSecond: 10}
	email := notify.NewStubEmailSender(logging.Discard())
	leadSender, sms := buildSenders(cfg, &infra{}, email, "stub", logging.Discard())
	require.NotNil(t, sms)

	receipt, err := leadSender.Send(context.Background(), messaging.Delivery{
		Channel:        leads.ChannelSMS,
		To:             "+15555550100",
		Text:           "Still looking for a place near the lake?",
		IdempotencyKey: "evt-1:1",
	})
	require.NoError(t, err)
	assert.Equal(t, "log", receipt.Provider)

	receipt, err = leadSender.Send(context.Background(), messaging.Delivery{
		Channel:        leads.ChannelEmail,
		To:             "dana@example.com",
		Text:           "Still looking for a place near the lake?",
		IdempotencyKey: "evt-2:2",
	})
	require.NoError(t, err)
	assert.Equal(t, "stub", receipt.Provider)
}

func TestBuildArchiverDisabledWithoutBucket(t *testing.T) {
	assert.Nil(t, buildArchiver(&appconfig.Config{}, &infra{}, logging.Discard()))
}
