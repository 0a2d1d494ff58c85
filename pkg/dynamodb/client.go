package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
)

// NewClient returns a DynamoDB client that honours AWS_ENDPOINT.
func NewClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awspkg.LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// ScanAll pages through a whole table and calls visit once per item.
// A visit error stops the scan and is returned as-is.
func ScanAll(ctx context.Context, client dynamodb.ScanAPIClient, table string, pageSize int32, visit func(map[string]types.AttributeValue) error) (int, error) {
	p := dynamodb.NewScanPaginator(client, &dynamodb.ScanInput{
		TableName: &table,
		Limit:     &pageSize,
	})

	seen := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return seen, err
		}
		for _, item := range page.Items {
			if err := visit(item); err != nil {
				return seen, err
			}
			seen++
		}
	}
	return seen, nil
}
