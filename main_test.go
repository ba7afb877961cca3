package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runs before all tests and configures the test environment
func TestMain(m *testing.M) {
	// we do not need logging during the tests
	zerolog.SetGlobalLevel(zerolog.Disabled)

	code := m.Run()

	os.Exit(code)
}

func TestLoadAWSConfig(t *testing.T) {
	original := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = original })

	var optCount int
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		optCount = len(optFns)
		return aws.Config{Region: "from-env"}, nil
	}

	cfg, err := loadAWSConfig(context.Background(), Config{
		AWSRegion:   "us-east-1",
		AWSEndpoint: "http://localhost:4566",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, optCount)
	assert.Equal(t, "us-east-1", cfg.Region)
	require.NotNil(t, cfg.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *cfg.BaseEndpoint)

	cfg, err = loadAWSConfig(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, 0, optCount)
	assert.Equal(t, "from-env", cfg.Region)
	assert.Nil(t, cfg.BaseEndpoint)
}

func TestLoadAWSConfigError(t *testing.T) {
	original := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = original })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, assert.AnError
	}

	_, err := newBackends(context.Background(), Config{
		TableName: "TestTable",
		QueueURL:  testQueueURL,
		StoreType: StoreTypeDynamoDB,
		QueueType: QueueTypeSQS,
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewBackends(t *testing.T) {
	original := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = original })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}

	b, err := newBackends(context.Background(), Config{
		TableName: "TestTable",
		QueueURL:  testQueueURL,
		StoreType: StoreTypeDynamoDB,
		QueueType: QueueTypeSQS,
	})
	require.NoError(t, err)
	assert.IsType(t, &DynamoItemStore{}, b.store)
	assert.IsType(t, &SQSPublisher{}, b.queue)
	assert.NotNil(t, b.sqsClient)
	assert.NoError(t, b.Close())

	b, err = newBackends(context.Background(), Config{
		TableName: "TestTable",
		StoreType: StoreTypeMemory,
		QueueType: QueueTypeMemory,
	})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryItemStore{}, b.store)
	assert.IsType(t, &InMemoryQueue{}, b.queue)
	assert.Nil(t, b.sqsClient)

	_, err = newBackends(context.Background(), Config{StoreType: "cassandra", QueueType: QueueTypeMemory})
	assert.Error(t, err)
}

func TestReadEvent(t *testing.T) {
	event, err := readEvent("-", strings.NewReader(`{"body":"e30=","headers":{"ignored":"yes"}}`))
	require.NoError(t, err)
	assert.Equal(t, Event{Body: "e30="}, event)

	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"body":"abc"}`), 0o600))
	event, err = readEvent(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", event.Body)

	_, err = readEvent("-", strings.NewReader(`not json`))
	assert.Error(t, err)

	_, err = readEvent(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestInvokeCommand(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.Disabled) })

	payload := base64.StdEncoding.EncodeToString([]byte(`{"attribute1":"value1"}`))

	tests := []struct {
		name   string
		event  string
		status int
	}{
		{name: "success", event: `{"body":"` + payload + `"}`, status: http.StatusOK},
		{name: "invalid base64", event: `{"body":"Invalid base64"}`, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			app := newApp()
			app.Reader = strings.NewReader(tt.event)
			app.Writer = &out

			err := app.Run([]string{"item-ingest", "--log-level", "error",
				"--table-name", "TestTable", "--store-type", "memory", "--queue-type", "memory", "invoke"})
			require.NoError(t, err)

			var resp Response
			require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.StatusCode)
			responseBody(t, resp)
		})
	}
}

func TestInvokeCommandInvalidConfig(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.Disabled) })

	app := newApp()
	app.Reader = strings.NewReader(`{}`)
	app.Writer = &bytes.Buffer{}

	err := app.Run([]string{"item-ingest", "--log-level", "error",
		"--table-name", "", "--store-type", "memory", "--queue-type", "memory", "invoke"})
	assert.ErrorContains(t, err, "table name is required")
}

func TestSubcommandsReadAppLevelBackendFlags(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.Disabled) })

	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"body":"e30="}`), 0o600))

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run([]string{"item-ingest", "--log-level", "error",
		"--store-type", "memory", "--queue-type", "memory", "--table-name", "TestTable",
		"invoke", "--event", path})
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// verify sees the memory queue type from the app level and refuses to run
	app = newApp()
	app.Writer = &bytes.Buffer{}
	err = app.Run([]string{"item-ingest", "--log-level", "error",
		"--store-type", "memory", "--queue-type", "memory", "--table-name", "TestTable", "verify"})
	assert.ErrorContains(t, err, "verify needs queue-type sqs")
}
