package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Application failed")
	}
}

// app level only, subcommands read them through the context lineage
func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "table-name",
			Usage:   "Store table name (DynamoDB table, postgres table or redis key prefix)",
			EnvVars: []string{"TABLE_NAME"},
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Usage:   "AWS SQS queue URL items are published to",
			EnvVars: []string{"QUEUE_URL"},
		},
		&cli.StringFlag{
			Name:    "store-type",
			Usage:   "Item store type (dynamodb, postgres, redis, memory)",
			Value:   StoreTypeDynamoDB,
			EnvVars: []string{"STORE_TYPE"},
		},
		&cli.StringFlag{
			Name:    "queue-type",
			Usage:   "Queue type (sqs, memory)",
			Value:   QueueTypeSQS,
			EnvVars: []string{"QUEUE_TYPE"},
		},
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "Database connection URL when store-type is postgres",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address when store-type is redis",
			Value:   "localhost:6379",
			EnvVars: []string{"REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "aws-region",
			Usage:   "AWS region, defaults to the SDK resolution chain",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "aws-endpoint",
			Usage:   "Custom AWS endpoint, e.g. LocalStack",
			EnvVars: []string{"AWS_ENDPOINT_URL"},
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "item-ingest",
		Usage: "Store base64 JSON events in a key-value store and forward them to SQS",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (json, console)",
				Value:   "json",
				EnvVars: []string{"LOG_FORMAT"},
			},
		}, backendFlags()...),
		Before: func(c *cli.Context) error {
			setupLogging(c.String("log-level"), c.String("log-format"))
			return nil
		},
		// the Lambda runtime execs the binary without arguments
		Action: startLambda,
		Commands: []*cli.Command{
			{
				Name:   "lambda",
				Usage:  "Serve events from the AWS Lambda runtime",
				Action: startLambda,
			},
			{
				Name:  "invoke",
				Usage: "Handle a single event read from a file or stdin and print the response",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "event",
						Usage: "Path to an event JSON file, - for stdin",
						Value: "-",
					},
				},
				Action: invokeOnce,
			},
			{
				Name:  "verify",
				Usage: "Check queued messages against the item store",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "delete",
						Usage: "Delete messages that match the store",
					},
					&cli.IntFlag{
						Name:  "max-empty-polls",
						Usage: "Stop after this many consecutive empty receives, 0 runs until interrupted",
						Value: 3,
					},
					&cli.IntFlag{
						Name:  "wait-seconds",
						Usage: "SQS long polling wait time",
						Value: 20,
					},
					&cli.IntFlag{
						Name:  "visibility-timeout",
						Usage: "Seconds received messages stay hidden from other consumers",
						Value: 60,
					},
				},
				Action: verifyQueue,
			},
		},
	}
}

func setupLogging(level, format string) {
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func loadBackends(c *cli.Context) (*backends, error) {
	cfg := configFromContext(c)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log.Debug().Stringer("config", cfg).Msg("Configuration loaded")

	return newBackends(c.Context, cfg)
}

func startLambda(c *cli.Context) error {
	b, err := loadBackends(c)
	if err != nil {
		return err
	}

	handler := NewHandler(b.store, b.queue)

	log.Info().Msg("Starting Lambda handler")
	lambda.Start(handler.Handle)
	return nil
}

func invokeOnce(c *cli.Context) error {
	b, err := loadBackends(c)
	if err != nil {
		return err
	}
	defer b.Close()

	event, err := readEvent(c.String("event"), c.App.Reader)
	if err != nil {
		return err
	}

	resp, _ := NewHandler(b.store, b.queue).Handle(c.Context, event)

	out, err := marshalJSON(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

func readEvent(path string, stdin io.Reader) (Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}

	var event Event
	if err := unmarshalJSON(data, &event); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	return event, nil
}

func verifyQueue(c *cli.Context) error {
	b, err := loadBackends(c)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.sqsClient == nil {
		return errors.New("verify needs queue-type sqs")
	}

	verifier, err := NewVerifier(b.sqsClient, b.store, VerifierConfig{
		QueueURL:          c.String("queue-url"),
		WaitTimeSeconds:   int32(c.Int("wait-seconds")),
		VisibilityTimeout: int32(c.Int("visibility-timeout")),
		MaxEmptyPolls:     c.Int("max-empty-polls"),
		DeleteMatched:     c.Bool("delete"),
	})
	if err != nil {
		return err
	}

	// shutdown on ctrl-c or sigterm
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := verifier.Run(ctx)
	log.Info().
		Int("received", report.Received).
		Int("matched", report.Matched).
		Int("missing", report.Missing).
		Int("mismatched", report.Mismatched).
		Int("unparseable", report.Unparseable).
		Int("store_errors", report.StoreErrors).
		Msg("Verification finished")
	if err != nil {
		return err
	}

	if !report.OK() {
		return cli.Exit("verification failed", 1)
	}
	return nil
}
