package aws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSQS struct {
	mu         sync.Mutex
	batches    [][]types.Message
	receiveErr error
	deleted    []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if len(f.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sdkaws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func message(id, body string) types.Message {
	return types.Message{
		MessageId:     sdkaws.String(id),
		ReceiptHandle: sdkaws.String("rh-" + id),
		Body:          sdkaws.String(body),
	}
}

func TestPollOnce_DeletesOnlyHandledMessages(t *testing.T) {
	fake := &fakeSQS{batches: [][]types.Message{{
		message("1", "ok"),
		message("2", "fail"),
		{MessageId: sdkaws.String("3")},
		message("4", "ok"),
	}}}
	c := &SQSConsumer{client: fake, queueURL: "http://localhost/queue", logger: zap.NewNop()}

	var seen []string
	err := c.pollOnce(context.Background(), func(_ context.Context, body string) error {
		seen = append(seen, body)
		if body == "fail" {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "fail", "ok"}, seen)
	assert.Equal(t, []string{"rh-1", "rh-4"}, fake.deletedHandles())
}

func TestPollOnce_ReceiveError(t *testing.T) {
	fake := &fakeSQS{receiveErr: errors.New("access denied")}
	c := &SQSConsumer{client: fake, queueURL: "q", logger: zap.NewNop()}

	err := c.pollOnce(context.Background(), func(context.Context, string) error { return nil })
	assert.Error(t, err)
}

func TestStartPolling_StopsOnCancel(t *testing.T) {
	fake := &fakeSQS{receiveErr: errors.New("unreachable")}
	c := &SQSConsumer{client: fake, queueURL: "q", logger: zap.NewNop(), errorBackoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.StartPolling(ctx, func(context.Context, string) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("StartPolling did not return after cancel")
	}
}
