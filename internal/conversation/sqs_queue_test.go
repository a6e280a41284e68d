package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQS struct {
	sent       []string
	deleted    []string
	visibility map[string]int32
	messages   []sqstypes.Message
	lastWait   int32
	lastMax    int32
	err        error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastWait = in.WaitTimeSeconds
	f.lastMax = in.MaxNumberOfMessages
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.visibility == nil {
		f.visibility = make(map[string]int32)
	}
	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSQueueRoundTrip(t *testing.T) {
	api := &fakeSQS{messages: []sqstypes.Message{
		{MessageId: aws.String("m-1"), Body: aws.String(`{"lead_id":"lead-1"}`), ReceiptHandle: aws.String("rh-1")},
	}}
	q := newSQSQueue(api, "https://sqs.local/queue")

	if err := q.Send(context.Background(), "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(api.sent) != 1 || api.sent[0] != "body" {
		t.Fatalf("unexpected sent bodies: %v", api.sent)
	}

	msgs, err := q.Receive(context.Background(), 5, 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if api.lastMax != 5 || api.lastWait != 10 {
		t.Fatalf("unexpected receive params max=%d wait=%d", api.lastMax, api.lastWait)
	}
	if len(msgs) != 1 || msgs[0].ReceiptHandle != "rh-1" || msgs[0].ID != "m-1" {
		t.Fatalf("unexpected messages: %#v", msgs)
	}

	if err := q.Delete(context.Background(), "rh-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := q.Delete(context.Background(), ""); err != nil {
		t.Fatalf("delete empty handle: %v", err)
	}
	if len(api.deleted) != 1 {
		t.Fatalf("expected one delete call, got %v", api.deleted)
	}
}

func TestSQSQueueReleaseSetsVisibility(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.local/queue")

	if err := q.Release(context.Background(), "rh-1", 30*time.Second); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := q.Release(context.Background(), "rh-2", 48*time.Hour); err != nil {
		t.Fatalf("release: %v", err)
	}
	if api.visibility["rh-1"] != 30 {
		t.Fatalf("expected 30s visibility, got %d", api.visibility["rh-1"])
	}
	if api.visibility["rh-2"] != 43200 {
		t.Fatalf("expected visibility capped at 12h, got %d", api.visibility["rh-2"])
	}
}

func TestSQSQueueWrapsErrors(t *testing.T) {
	boom := errors.New("throttled")
	q := newSQSQueue(&fakeSQS{err: boom}, "https://sqs.local/queue")

	if err := q.Send(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if _, err := q.Receive(context.Background(), 1, 0); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped receive error, got %v", err)
	}
}
