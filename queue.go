package main

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

var ErrEmptyQueueURL = errors.New("queue url is empty")

type SQSClientInterface interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// sends one text message per call to a fixed destination
type Publisher interface {
	Publish(ctx context.Context, body string) error
}

type SQSPublisher struct {
	client   SQSClientInterface
	queueURL string
}

func NewSQSPublisher(client SQSClientInterface, queueURL string) (*SQSPublisher, error) {
	if queueURL == "" {
		return nil, ErrEmptyQueueURL
	}
	return &SQSPublisher{client: client, queueURL: queueURL}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, body string) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	})
	return err
}

// keeps published bodies in order, Err makes every publish fail
type InMemoryQueue struct {
	mu       sync.Mutex
	messages []string
	Err      error
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{}
}

func (q *InMemoryQueue) Publish(ctx context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.Err != nil {
		return q.Err
	}
	q.messages = append(q.messages, body)
	return nil
}

func (q *InMemoryQueue) Messages() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.messages))
	copy(out, q.messages)
	return out
}
