package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/analogj/lodestone-pipeline/pkg/cache"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Put(ctx context.Context, result model.OcrResult) error {
	return errors.New("redis down")
}

func TestResultProcessor_CachesResult(t *testing.T) {
	//setup
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	results := cache.NewResultCache(logrus.WithField("test", t.Name()), client, time.Hour)
	p := NewResultProcessor(logrus.WithField("test", t.Name()), results)

	completed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	body, err := json.Marshal(model.OcrResult{ID: "doc-1", Status: model.OcrStatusCompleted, Preview: "Hallo", CompletedAtUtc: &completed})
	require.NoError(t, err)

	//test
	result := p.Handle(context.Background(), body)

	//assert
	require.Equal(t, processor.OutcomeSuccess, result.Outcome)
	cached, err := results.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.OcrStatusCompleted, cached.Status)
	require.Equal(t, "Hallo", cached.Preview)
	require.True(t, completed.Equal(*cached.CompletedAtUtc))
}

func TestResultProcessor_RejectsInvalidMessages(t *testing.T) {
	p := NewResultProcessor(logrus.WithField("test", t.Name()), failingStore{})

	for name, body := range map[string]string{
		"malformed":  "{",
		"missing id": `{"status":"Completed"}`,
		"bad status": `{"id":"x","status":"Done"}`,
	} {
		result := p.Handle(context.Background(), []byte(body))
		require.Equal(t, processor.OutcomePermanentFailure, result.Outcome, name)
	}
}

func TestResultProcessor_CacheFailureIsRequeued(t *testing.T) {
	//setup
	p := NewResultProcessor(logrus.WithField("test", t.Name()), failingStore{})

	//test
	result := p.Handle(context.Background(), []byte(`{"id":"doc-1","status":"Failed"}`))

	//assert
	require.Equal(t, processor.OutcomeTransientFailure, result.Outcome)
	require.Equal(t, processor.DefaultRetryDelay, result.Delay)
}
