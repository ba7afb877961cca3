package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

type VerifierConfig struct {
	QueueURL          string
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	MaxEmptyPolls     int  // stop after this many consecutive empty receives, 0 means run until cancelled
	DeleteMatched     bool // otherwise messages become visible again after the timeout
}

type VerifyReport struct {
	Received    int
	Matched     int
	Missing     int
	Mismatched  int
	Unparseable int
	StoreErrors int // lookups that failed for reasons other than not found
}

func (r VerifyReport) OK() bool {
	return r.Missing == 0 && r.Mismatched == 0 && r.Unparseable == 0 && r.StoreErrors == 0
}

type verifyOutcome int

const (
	outcomeMatched verifyOutcome = iota
	outcomeMissing
	outcomeMismatched
	outcomeUnparseable
	outcomeStoreError
	outcomeDuplicate
)

// reads published items back off the queue and checks each one against the store
type Verifier struct {
	config    VerifierConfig
	sqsClient SQSClientInterface
	store     ItemStore
	seen      map[string]struct{}
}

func NewVerifier(sqsClient SQSClientInterface, store ItemStore, config VerifierConfig) (*Verifier, error) {
	if config.QueueURL == "" {
		return nil, ErrEmptyQueueURL
	}
	return &Verifier{
		config:    config,
		sqsClient: sqsClient,
		store:     store,
		seen:      make(map[string]struct{}),
	}, nil
}

func (v *Verifier) Run(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport

	v.logQueueStats(ctx)

	emptyPolls := 0
	for {
		select {
		case <-ctx.Done():
			return report, nil
		default:
		}

		if v.config.MaxEmptyPolls > 0 && emptyPolls >= v.config.MaxEmptyPolls {
			log.Info().Int("empty_polls", emptyPolls).Msg("Queue drained")
			return report, nil
		}

		result, err := v.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(v.config.QueueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     v.config.WaitTimeSeconds,
			VisibilityTimeout:   v.config.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, nil
			}
			return report, fmt.Errorf("receive messages: %w", err)
		}

		log.Debug().Int("count", len(result.Messages)).Msg("Received messages from SQS")

		// redeliveries of messages already checked do not count as progress
		fresh := 0
		for _, msg := range result.Messages {
			outcome := v.checkMessage(ctx, msg)
			if outcome == outcomeDuplicate {
				continue
			}
			fresh++

			switch outcome {
			case outcomeMatched:
				report.Matched++
			case outcomeMissing:
				report.Missing++
			case outcomeMismatched:
				report.Mismatched++
			case outcomeUnparseable:
				report.Unparseable++
			case outcomeStoreError:
				report.StoreErrors++
			}
			report.Received++
		}

		if fresh == 0 {
			emptyPolls++
		} else {
			emptyPolls = 0
		}
	}
}

func (v *Verifier) checkMessage(ctx context.Context, msg types.Message) verifyOutcome {
	messageID := aws.ToString(msg.MessageId)
	if _, dup := v.seen[messageID]; dup {
		return outcomeDuplicate
	}
	v.seen[messageID] = struct{}{}

	ml := log.With().Str("message_id", messageID).Logger()

	published, err := parseItem([]byte(aws.ToString(msg.Body)))
	if err != nil {
		ml.Error().Err(err).Msg("Failed to parse message")
		return outcomeUnparseable
	}

	id := published.ID()
	if id == "" {
		ml.Error().Msg("Invalid message: missing id")
		return outcomeUnparseable
	}
	ml = ml.With().Str("id", id).Logger()

	stored, err := v.store.GetItem(ctx, id)
	if errors.Is(err, ErrItemNotFound) {
		ml.Warn().Msg("Published item missing from store")
		return outcomeMissing
	}
	if err != nil {
		ml.Error().Err(err).Msg("Failed to load item from store")
		return outcomeStoreError
	}

	equal, err := sameItem(published, stored)
	if err != nil {
		ml.Error().Err(err).Msg("Failed to compare items")
		return outcomeUnparseable
	}
	if !equal {
		ml.Warn().Interface("published", published).Interface("stored", stored).Msg("Published item differs from stored item")
		return outcomeMismatched
	}

	ml.Debug().Msg("Published item matches store")
	if v.config.DeleteMatched {
		v.deleteMessage(ctx, msg)
	}
	return outcomeMatched
}

func sameItem(a, b Item) (bool, error) {
	ca, err := canonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := canonicalJSON(b)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(ca, cb), nil
}

func (v *Verifier) deleteMessage(ctx context.Context, msg types.Message) {
	_, err := v.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(v.config.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		log.Error().Str("message_id", aws.ToString(msg.MessageId)).Err(err).Msg("Failed to delete message from SQS")
	} else {
		log.Debug().Str("message_id", aws.ToString(msg.MessageId)).Msg("Message deleted from SQS")
	}
}

func (v *Verifier) logQueueStats(ctx context.Context) {
	result, err := v.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(v.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch queue stats")
		return
	}

	log.Info().
		Str("available", result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]).
		Str("in_flight", result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)]).
		Msg("SQS queue stats")
}
