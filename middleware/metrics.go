package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
)

// Metrics records request count, latency and error class in CloudWatch with
// one PutMetricData call per request. The Path dimension is the route
// template, so SKU ids do not explode metric cardinality.
func Metrics(metricsClient *awspkg.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		dimensions := map[string]string{
			"Method": c.Request.Method,
			"Path":   path,
			"Status": statusCodeToRange(status),
		}
		data := []awspkg.Datum{
			awspkg.Count(awspkg.MetricHTTPRequests),
			awspkg.Latency(awspkg.MetricHTTPLatency, duration),
		}
		switch {
		case status >= 500:
			data = append(data, awspkg.Count(awspkg.MetricHTTPErrors), awspkg.Count(awspkg.MetricHTTP5xx))
		case status >= 400:
			data = append(data, awspkg.Count(awspkg.MetricHTTPErrors), awspkg.Count(awspkg.MetricHTTP4xx))
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsClient.Put(ctx, dimensions, data...)
		}()
	}
}

func statusCodeToRange(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
