package store

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() || os.Getenv("LODESTONE_INTEGRATION") == "" {
		t.Skip("set LODESTONE_INTEGRATION=1 to run the postgres integration tests")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dmsg3_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := logrus.New()
	logger.Out = ioutil.Discard
	ps, err := NewPostgresStore(ctx, logrus.NewEntry(logger), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	ps := setupPostgres(t)
	ctx := context.Background()

	doc := model.NewDocument("neu", "neu.txt", model.ContentTypeText, 3, "")
	require.NoError(t, ps.Create(ctx, doc))

	loaded, err := ps.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.StorageObjectName, loaded.StorageObjectName)
	assert.Equal(t, model.VirusScanStatusNotScanned, loaded.VirusScanStatus)
	assert.Nil(t, loaded.OcrStartedAt)
	assert.Empty(t, loaded.OcrText)

	now := time.Now().UTC().Truncate(time.Millisecond)
	loaded.BeginOcr(now)
	loaded.CompleteOcr("123", now)
	require.NoError(t, ps.Save(ctx, loaded))

	stale, err := ps.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "123", stale.OcrText)
	assert.Equal(t, model.OcrStatusCompleted, stale.OcrStatus)
	require.NotNil(t, stale.OcrCompletedAt)

	stale.Version--
	assert.ErrorIs(t, ps.Save(ctx, stale), model.ErrVersionConflict)

	docs, err := ps.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, ps.Delete(ctx, doc.ID))
	_, err = ps.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
	_, err = ps.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
}
