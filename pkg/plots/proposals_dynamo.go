package plots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by the proposal store.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// proposalItem is the DynamoDB item. expires_at is epoch seconds so the
// table's TTL setting can reap it.
type proposalItem struct {
	PlotID     string `dynamodbav:"plot_id"`
	ProposalID string `dynamodbav:"proposal_id"`
	CompanyID  string `dynamodbav:"company_id"`
	Payload    string `dynamodbav:"payload"`
	ExpiresAt  int64  `dynamodbav:"expires_at"`
}

// DynamoProposalStore keeps proposals in a DynamoDB table.
//
// Table requirements:
//   - PK: plot_id (string)
//   - TTL attribute: expires_at
type DynamoProposalStore struct {
	ddb       DynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoProposalStore creates a store on the given table.
func NewDynamoProposalStore(ddb DynamoAPI, tableName string) *DynamoProposalStore {
	return &DynamoProposalStore{ddb: ddb, tableName: tableName, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *DynamoProposalStore) WithClock(now func() time.Time) *DynamoProposalStore {
	s.now = now
	return s
}

func (s *DynamoProposalStore) Put(ctx context.Context, p *Proposal) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal: %w", err)
	}
	av, err := attributevalue.MarshalMap(proposalItem{
		PlotID:     p.PlotID,
		ProposalID: p.ID,
		CompanyID:  p.CompanyID,
		Payload:    string(payload),
		ExpiresAt:  p.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal proposal item: %w", err)
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put proposal: %w", err)
	}
	return nil
}

func (s *DynamoProposalStore) Get(ctx context.Context, plotID string) (*Proposal, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"plot_id": &types.AttributeValueMemberS{Value: plotID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it proposalItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal proposal item: %w", err)
	}
	// TTL deletion is eventual; expired items can still be read.
	if s.now().Unix() >= it.ExpiresAt {
		return nil, nil
	}
	var p Proposal
	if err := json.Unmarshal([]byte(it.Payload), &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}

func (s *DynamoProposalStore) Delete(ctx context.Context, plotID, proposalID string) error {
	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"plot_id": &types.AttributeValueMemberS{Value: plotID},
		},
	}
	if proposalID != "" {
		in.ConditionExpression = aws.String("#pid = :pid")
		in.ExpressionAttributeNames = map[string]string{"#pid": "proposal_id"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: proposalID},
		}
	}
	_, err := s.ddb.DeleteItem(ctx, in)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("delete proposal: %w", err)
	}
	return nil
}

// NewDynamoDBClientFromEnv builds a DynamoDB client from the environment.
//
// Environment variables:
//   - AWS_REGION (default: us-east-1)
//   - AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY: static credentials, used
//     when both are set; otherwise the default credential chain applies
//   - DYNAMODB_ENDPOINT (optional; e.g. http://localhost:8000)
func NewDynamoDBClientFromEnv(ctx context.Context) (*dynamodb.Client, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	key, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, os.Getenv("AWS_SESSION_TOKEN")),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
