package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const defaultLogRetentionDays = 30

type logsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsClient is a zapcore.WriteSyncer that ships each JSON log
// line to one stream per process.
type CloudWatchLogsClient struct {
	client  logsAPI
	group   string
	stream  string
	enabled bool

	mu    sync.Mutex
	token *string
	drops int
}

// NewCloudWatchLogsClient returns a disabled client unless
// CLOUDWATCH_ENABLED=true. CLOUDWATCH_LOG_GROUP and
// CLOUDWATCH_RETENTION_DAYS override the defaults.
func NewCloudWatchLogsClient(ctx context.Context, serviceName string) (*CloudWatchLogsClient, error) {
	if os.Getenv("CLOUDWATCH_ENABLED") != "true" {
		return &CloudWatchLogsClient{}, nil
	}

	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	group := os.Getenv("CLOUDWATCH_LOG_GROUP")
	if group == "" {
		group = "/reservations/" + serviceName
	}
	retention := defaultLogRetentionDays
	if v := os.Getenv("CLOUDWATCH_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid CLOUDWATCH_RETENTION_DAYS %q", v)
		}
		retention = n
	}

	hostname, _ := os.Hostname()
	stream := fmt.Sprintf("%s/%s/%d", serviceName, hostname, time.Now().Unix())
	return newLogsClient(ctx, cloudwatchlogs.NewFromConfig(cfg), group, stream, int32(retention))
}

func newLogsClient(ctx context.Context, api logsAPI, group, stream string, retentionDays int32) (*CloudWatchLogsClient, error) {
	c := &CloudWatchLogsClient{client: api, group: group, stream: stream, enabled: true}

	if _, err := api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: sdkaws.String(group),
	}); err != nil && !alreadyExists(err) {
		return nil, fmt.Errorf("create log group %s: %w", group, err)
	}
	if _, err := api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    sdkaws.String(group),
		RetentionInDays: sdkaws.Int32(retentionDays),
	}); err != nil {
		return nil, fmt.Errorf("set retention on %s: %w", group, err)
	}
	if _, err := api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  sdkaws.String(group),
		LogStreamName: sdkaws.String(stream),
	}); err != nil && !alreadyExists(err) {
		return nil, fmt.Errorf("create log stream %s: %w", stream, err)
	}
	return c, nil
}

func alreadyExists(err error) bool {
	var exists *types.ResourceAlreadyExistsException
	return errors.As(err, &exists)
}

// Write never returns an error. A line that cannot be shipped is counted,
// reported on stderr, and dropped so logging never blocks a request on AWS.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	if !c.IsEnabled() {
		return len(p), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.client.PutLogEvents(context.Background(), &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  sdkaws.String(c.group),
		LogStreamName: sdkaws.String(c.stream),
		LogEvents: []types.InputLogEvent{{
			Message:   sdkaws.String(string(p)),
			Timestamp: sdkaws.Int64(time.Now().UnixMilli()),
		}},
		SequenceToken: c.token,
	})
	if err != nil {
		c.drops++
		fmt.Fprintf(os.Stderr, "cloudwatch logs: dropped line (%d total): %v\n", c.drops, err)
		return len(p), nil
	}
	c.token = out.NextSequenceToken
	return len(p), nil
}

func (c *CloudWatchLogsClient) Sync() error { return nil }

// Dropped reports how many lines failed to ship.
func (c *CloudWatchLogsClient) Dropped() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

func (c *CloudWatchLogsClient) IsEnabled() bool {
	return c != nil && c.enabled
}
