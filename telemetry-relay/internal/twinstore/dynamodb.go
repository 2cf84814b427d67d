package twinstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"twin-relay/pkg/twin"
)

type dynamoAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps one item per twin, keyed by twin_id, with the twin properties in a map attribute.
type DynamoStore struct {
	client dynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore builds a client from the default AWS config chain. endpoint overrides the
// service URL, e.g. for DynamoDB Local.
func NewDynamoStore(ctx context.Context, table, endpoint string) (*DynamoStore, error) {
	if table == "" {
		return nil, errors.New("twinstore: dynamodb table name is empty")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &DynamoStore{client: client, table: table, now: time.Now}, nil
}

func (s *DynamoStore) EnsureTwin(ctx context.Context, twinID string) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"twin_id":    &types.AttributeValueMemberS{Value: twinID},
			"properties": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
			"version":    &types.AttributeValueMemberN{Value: "0"},
			"updated_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(twin_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create twin in dynamodb: %w", err)
	}
	return nil
}

func (s *DynamoStore) UpdateTwin(ctx context.Context, twinID string, patch twin.Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	input, err := buildUpdate(s.table, twinID, patch, s.now())
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, input)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", ErrTwinNotFound, twinID)
	}
	if err != nil {
		return fmt.Errorf("failed to update twin in dynamodb: %w", err)
	}
	return nil
}

// buildUpdate turns patch into a single conditional UpdateItem. Every path segment gets its own
// expression attribute name so property names never clash with reserved words.
func buildUpdate(table, twinID string, patch twin.Patch, now time.Time) (*dynamodb.UpdateItemInput, error) {
	names := map[string]string{
		"#props":   "properties",
		"#version": "version",
		"#updated": "updated_at",
	}
	values := map[string]types.AttributeValue{
		":zero": &types.AttributeValueMemberN{Value: "0"},
		":one":  &types.AttributeValueMemberN{Value: "1"},
		":now":  &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	}

	sets := make([]string, 0, len(patch)+2)
	for i, op := range patch {
		tokens, err := twin.SplitPath(op.Path)
		if err != nil {
			return nil, err
		}
		parts := []string{"#props"}
		for j, tok := range tokens {
			name := fmt.Sprintf("#p%d_%d", i, j)
			names[name] = tok
			parts = append(parts, name)
		}

		av, err := attributevalue.Marshal(op.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value for %s: %w", op.Path, err)
		}
		placeholder := fmt.Sprintf(":v%d", i)
		values[placeholder] = av
		sets = append(sets, strings.Join(parts, ".")+" = "+placeholder)
	}
	sets = append(sets,
		"#version = if_not_exists(#version, :zero) + :one",
		"#updated = :now",
	)

	return &dynamodb.UpdateItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"twin_id": &types.AttributeValueMemberS{Value: twinID},
		},
		ConditionExpression:       aws.String("attribute_exists(twin_id)"),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

func (s *DynamoStore) Close() error { return nil }
