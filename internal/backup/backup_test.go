package backup

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	calls   int
	lastKey string
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.calls++
	f.lastKey = *input.Key
	return &manager.UploadOutput{}, nil
}

func TestJob_Run_DisabledWhenBucketEmpty(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	j, err := New(context.Background(), Config{}, db, "", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, j.Run())
	assert.Nil(t, j.uploader)
}

func TestJob_Run_UploadsSnapshotWhenConfigured(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	fake := &fakeUploader{}
	j := &Job{db: db, bucket: "test-bucket", prefix: "monitor-backups", uploader: fake, log: zerolog.Nop()}

	require.NoError(t, j.Run())
	assert.Equal(t, 1, fake.calls)
	assert.Contains(t, fake.lastKey, "monitor-backups/")
}

func TestJob_Name(t *testing.T) {
	j := &Job{}
	assert.Equal(t, "snapshot-s3", j.Name())
}
