// Package tolerance stores the per-collection minimum gap duration used to
// filter reported gaps. Tolerances live in a DynamoDB table keyed by
// collection short name and version.
package tolerance

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoAPI is the table surface the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Item is one tolerance row.
type Item struct {
	ShortName  string `dynamodbav:"shortname"`
	Version    string `dynamodbav:"versionid"`
	GranuleGap int64  `dynamodbav:"granulegap"`
}

// Store reads and writes collection tolerances.
type Store struct {
	client DynamoAPI
	table  string
}

// NewStore builds a Store for one table.
func NewStore(client DynamoAPI, table string) *Store {
	return &Store{client: client, table: table}
}

// Get returns the tolerance in seconds for a collection. A collection with
// no stored tolerance has tolerance zero.
func (s *Store) Get(ctx context.Context, shortName, version string) (int64, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"shortname": shortName,
		"versionid": version,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal tolerance key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key:       key,
	})
	if err != nil {
		return 0, fmt.Errorf("get tolerance for %s v%s: %w", shortName, version, err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return 0, fmt.Errorf("unmarshal tolerance item: %w", err)
	}
	return item.GranuleGap, nil
}

// Put stores the tolerance in seconds for a collection.
func (s *Store) Put(ctx context.Context, shortName, version string, seconds int64) error {
	av, err := attributevalue.MarshalMap(Item{
		ShortName:  shortName,
		Version:    version,
		GranuleGap: seconds,
	})
	if err != nil {
		return fmt.Errorf("marshal tolerance item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put tolerance for %s v%s: %w", shortName, version, err)
	}
	return nil
}
