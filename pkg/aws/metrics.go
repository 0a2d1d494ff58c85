package aws

import (
	"context"
	"fmt"
	"os"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch accepts at most 1000 datums per PutMetricData call.
const maxDatumsPerCall = 1000

type metricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Datum is one data point. Dimensions are supplied per Put call.
type Datum struct {
	Name  string
	Value float64
	Unit  types.StandardUnit
}

// MetricsClient sends service metrics to CloudWatch. Every datum carries a
// Service dimension. A nil or disabled client accepts and drops everything.
type MetricsClient struct {
	client    metricsAPI
	namespace string
	service   string
	enabled   bool
}

// NewMetricsClient is disabled unless CLOUDWATCH_ENABLED=true.
func NewMetricsClient(ctx context.Context, serviceName string) (*MetricsClient, error) {
	if os.Getenv("CLOUDWATCH_ENABLED") != "true" {
		return &MetricsClient{service: serviceName}, nil
	}

	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	namespace := os.Getenv("CLOUDWATCH_NAMESPACE")
	if namespace == "" {
		namespace = "Reservations"
	}
	return &MetricsClient{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		service:   serviceName,
		enabled:   true,
	}, nil
}

// Put sends data with the same dimensions, in as few calls as possible.
func (m *MetricsClient) Put(ctx context.Context, dimensions map[string]string, data ...Datum) error {
	if !m.IsEnabled() || len(data) == 0 {
		return nil
	}

	dims := make([]types.Dimension, 0, len(dimensions)+1)
	dims = append(dims, types.Dimension{Name: sdkaws.String("Service"), Value: sdkaws.String(m.service)})
	for k, v := range dimensions {
		if k == "Service" {
			continue
		}
		dims = append(dims, types.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}

	now := sdkaws.Time(time.Now())
	datums := make([]types.MetricDatum, len(data))
	for i, d := range data {
		datums[i] = types.MetricDatum{
			MetricName: sdkaws.String(d.Name),
			Value:      sdkaws.Float64(d.Value),
			Unit:       d.Unit,
			Timestamp:  now,
			Dimensions: dims,
		}
	}

	for start := 0; start < len(datums); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(datums))
		if _, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  sdkaws.String(m.namespace),
			MetricData: datums[start:end],
		}); err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

// RecordCount increments a counter by one.
func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.Put(ctx, dimensions, Count(metricName))
}

func (m *MetricsClient) RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error {
	return m.Put(ctx, dimensions, Datum{Name: metricName, Value: value, Unit: types.StandardUnitNone})
}

func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, d time.Duration, dimensions map[string]string) error {
	return m.Put(ctx, dimensions, Latency(metricName, d))
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}

func Count(name string) Datum {
	return Datum{Name: name, Value: 1, Unit: types.StandardUnitCount}
}

func Latency(name string, d time.Duration) Datum {
	return Datum{Name: name, Value: float64(d.Milliseconds()), Unit: types.StandardUnitMilliseconds}
}

const (
	// HTTP
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	// Stock
	MetricStockReserved   = "StockReserved"
	MetricStockLocked     = "StockLocked"
	MetricStockOutOfStock = "StockOutOfStock"
	MetricStockSoldOut    = "StockSoldOut"

	// Sweeps
	MetricSweepRuns         = "SweepRuns"
	MetricLocksSwept        = "LocksSwept"
	MetricQuantityReleased  = "QuantityReleased"
	MetricSweepErrors       = "SweepErrors"
	MetricSessionsCollected = "SessionsCollected"

	// Checkout and settlement
	MetricSessionsIssued       = "SessionsIssued"
	MetricSessionsRejected     = "SessionsRejected"
	MetricOrdersSettled        = "OrdersSettled"
	MetricOrdersUnverified     = "OrdersUnverified"
	MetricSettlementDuplicates = "SettlementDuplicates"
	MetricSettlementFailed     = "SettlementFailed"
	MetricNotificationFailed   = "NotificationFailed"
)
