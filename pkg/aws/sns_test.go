package aws

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{}, f.err
}

func TestSNSClientPublish_SetsStringAttributes(t *testing.T) {
	fake := &fakeSNS{}
	c := &SNSClient{client: fake}

	err := c.Publish(context.Background(), "arn:topic", []byte(`{"a":1}`), map[string]string{"event_type": "order_created"})
	require.NoError(t, err)

	assert.Equal(t, "arn:topic", sdkaws.ToString(fake.input.TopicArn))
	assert.Equal(t, `{"a":1}`, sdkaws.ToString(fake.input.Message))
	attr, ok := fake.input.MessageAttributes["event_type"]
	require.True(t, ok)
	assert.Equal(t, "String", sdkaws.ToString(attr.DataType))
	assert.Equal(t, "order_created", sdkaws.ToString(attr.StringValue))
}

func TestSNSClientPublish_Errors(t *testing.T) {
	c := &SNSClient{client: &fakeSNS{}}
	assert.Error(t, c.Publish(context.Background(), "", []byte("x"), nil))

	cause := errors.New("throttled")
	c = &SNSClient{client: &fakeSNS{err: cause}}
	assert.ErrorIs(t, c.Publish(context.Background(), "arn:topic", []byte("x"), nil), cause)
}
