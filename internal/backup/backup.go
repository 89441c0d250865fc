// Package backup implements an optional, disabled-by-default snapshot job:
// a periodic copy of the monitor's sqlite persistence file to S3 (or any
// S3-compatible endpoint). It is scheduled like every other job but is a
// pure no-op when SnapshotS3Bucket is unset, so an operator who never
// configures it pays nothing for its presence.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/scheduler/base"
)

// Uploader is the narrow seam Job depends on, satisfied by *manager.Uploader
// and swappable in tests.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Job uploads a consistent snapshot of the sqlite database file to S3 on
// each tick. Registered on the scheduler like any other job; Run is a no-op
// when Bucket is empty.
type Job struct {
	base.JobBase

	db       *sql.DB
	dbPath   string
	uploader Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// Config configures the optional snapshot job. Bucket empty disables it.
type Config struct {
	Bucket string
	Region string
	Prefix string // key prefix within the bucket, default "monitor-backups"
}

// New constructs the job. db is the live connection the snapshot is taken
// from (via sqlite's online backup VACUUM INTO, avoiding a copy of a
// mid-write file). dbPath is kept on the Job but not read: the uploaded
// object is named from the prefix and the upload time.
func New(ctx context.Context, cfg Config, db *sql.DB, dbPath string, log zerolog.Logger) (*Job, error) {
	log = log.With().Str("job", "snapshot-s3").Logger()
	j := &Job{db: db, dbPath: dbPath, bucket: cfg.Bucket, prefix: cfg.Prefix, log: log}
	if j.prefix == "" {
		j.prefix = "monitor-backups"
	}
	if cfg.Bucket == "" {
		return j, nil
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if key, secret := os.Getenv("SNAPSHOT_S3_ACCESS_KEY"), os.Getenv("SNAPSHOT_S3_SECRET_KEY"); key != "" && secret != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for snapshot job: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	j.uploader = manager.NewUploader(client)
	return j, nil
}

// Name identifies the job for scheduling and logging.
func (j *Job) Name() string {
	return "snapshot-s3"
}

// Run takes a consistent on-disk snapshot via VACUUM INTO and uploads it.
// Disabled (bucket empty) is a logged no-op, not an error, so the scheduler
// never treats an unconfigured backup as a tick failure.
func (j *Job) Run() error {
	if j.bucket == "" {
		j.log.Debug().Msg("snapshot job disabled, no S3 bucket configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	snapshotPath, err := j.vacuumSnapshot()
	if err != nil {
		return fmt.Errorf("snapshot sqlite file: %w", err)
	}
	defer os.Remove(snapshotPath)

	if err := j.upload(ctx, snapshotPath); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	j.log.Info().Str("bucket", j.bucket).Msg("snapshot uploaded")
	return nil
}

// vacuumSnapshot writes a crash-consistent copy of the live database to a
// temp file using sqlite's VACUUM INTO, which never blocks concurrent
// readers and never copies a partially-written page.
func (j *Job) vacuumSnapshot() (string, error) {
	dst := filepath.Join(os.TempDir(), fmt.Sprintf("monitor-snapshot-%d.db", time.Now().UnixNano()))
	if _, err := j.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", dst)); err != nil {
		return "", err
	}
	return dst, nil
}

func (j *Job) upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s.db", j.prefix, time.Now().UTC().Format("2006-01-02T15-04-05"))
	_, err = j.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(j.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}
