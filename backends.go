package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

// allows overriding the AWS config loader for testing
var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// the process-wide store and queue handles shared by every invocation
type backends struct {
	store     ItemStore
	queue     Publisher
	sqsClient SQSClientInterface
}

func newBackends(ctx context.Context, cfg Config) (*backends, error) {
	var awsCfg aws.Config
	if cfg.StoreType == StoreTypeDynamoDB || cfg.QueueType == QueueTypeSQS {
		var err error
		awsCfg, err = loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	store, err := newItemStore(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	b := &backends{store: store}

	switch cfg.QueueType {
	case QueueTypeSQS:
		b.sqsClient = sqs.NewFromConfig(awsCfg)
		b.queue, err = NewSQSPublisher(b.sqsClient, cfg.QueueURL)
		if err != nil {
			store.Close()
			return nil, err
		}
	case QueueTypeMemory:
		b.queue = NewInMemoryQueue()
	default:
		store.Close()
		return nil, fmt.Errorf("invalid queue-type: %s", cfg.QueueType)
	}

	log.Debug().Str("store_type", cfg.StoreType).Str("queue_type", cfg.QueueType).Msg("Backends ready")
	return b, nil
}

func (b *backends) Close() error {
	return b.store.Close()
}

func newItemStore(ctx context.Context, cfg Config, awsCfg aws.Config) (ItemStore, error) {
	switch cfg.StoreType {
	case StoreTypeDynamoDB:
		return NewDynamoItemStore(awsCfg, cfg.TableName), nil
	case StoreTypePostgres:
		store, err := NewPostgresItemStore(ctx, cfg.DatabaseURL, cfg.TableName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return store, nil
	case StoreTypeRedis:
		return NewRedisItemStore(ctx, cfg.RedisAddr, cfg.TableName)
	case StoreTypeMemory:
		return NewInMemoryItemStore(), nil
	default:
		return nil, fmt.Errorf("invalid store-type: %s", cfg.StoreType)
	}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	if cfg.AWSRegion != "" {
		awsCfg.Region = cfg.AWSRegion
	}
	if cfg.AWSEndpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWSEndpoint)
	}

	log.Debug().
		Str("region", awsCfg.Region).
		Bool("custom_endpoint", awsCfg.BaseEndpoint != nil).
		Msg("Loaded AWS config")

	return awsCfg, nil
}
