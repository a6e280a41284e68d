package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/lead-reengage/internal/leads"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte // key -> body
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func closedConversation(now time.Time) *leads.ConversationContext {
	start := now.Add(-2 * time.Hour)
	lc := leads.NewContext("lead-123", start)
	lc.Profile = leads.Profile{Name: "Jane", Phone: "+15551234567", Email: "jane@example.com", Source: "zillow"}
	lc.State = leads.StateClosed
	lc.AppendHistory(leads.HistoryEntry{Direction: leads.Outbound, Channel: leads.ChannelSMS, Text: "Hi Jane, still looking?", At: start}, 50)
	lc.AppendHistory(leads.HistoryEntry{Direction: leads.Inbound, Channel: leads.ChannelSMS, Text: "yes, text me at 330-333-2654", At: now.Add(-time.Hour), Intent: "affirmation"}, 50)
	lc.LastInboundAt = now.Add(-time.Hour)
	lc.LastOutboundAt = start
	return lc
}

func TestStore_Archive(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	now := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	err := store.Archive(context.Background(), closedConversation(now))
	require.NoError(t, err)

	// transcript + manifest
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "conversations/v1/by-date/2026/02/12/lead-123.json", mock.putCalls[0].key)

	var got TranscriptRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &got))
	assert.Equal(t, RecordVersion, got.Version)
	assert.Equal(t, "lead-123", got.LeadID)
	assert.Equal(t, leads.StateClosed, got.FinalState)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, 3600, got.DurationSeconds)
	assert.Equal(t, HashContact("+15551234567"), got.PhoneHash)
	assert.Equal(t, "yes, text me at[PHONE]", got.Messages[1].Content)
	assert.NotContains(t, string(mock.putCalls[0].body), "+15551234567")
	assert.NotContains(t, string(mock.putCalls[0].body), "jane@example.com")

	assert.Equal(t, "conversations/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "lead-123", entry.LeadID)
	assert.Equal(t, "CLOSED", entry.FinalState)
}

func TestStore_ArchiveSkipsActiveConversation(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	lc := leads.NewContext("lead-1", time.Now())
	lc.State = leads.StateQualifying
	require.NoError(t, store.Archive(context.Background(), lc))
	assert.Empty(t, mock.putCalls)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	err := store.Archive(context.Background(), closedConversation(time.Now()))
	assert.NoError(t, err)
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	now := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.AppendManifest(ctx, ManifestEntry{LeadID: "a", S3Key: "k1"}))
	require.NoError(t, store.AppendManifest(ctx, ManifestEntry{LeadID: "b", S3Key: "k2"}))

	data := mock.objects["conversations/v1/manifests/2026-02.jsonl"]
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"lead_id":"a"`)
	assert.Contains(t, lines[1], `"lead_id":"b"`)
}

func TestStore_ManifestReadError(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "test-bucket", nil)

	err := store.AppendManifest(context.Background(), ManifestEntry{LeadID: "a"})
	require.Error(t, err)
	assert.Empty(t, mock.putCalls)

	// A failed manifest does not fail the transcript write.
	now := time.Now()
	require.NoError(t, store.Archive(context.Background(), closedConversation(now)))
	assert.Len(t, mock.putCalls, 1)
}
