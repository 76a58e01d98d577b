// Package datasync copies the workload's shared working directory to S3 when
// its task is torn down.
package datasync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/d-lab/serverless-mephisto/api"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config describes a sync from a local root to an S3 prefix.
type Config struct {
	Cluster     string // teardown events from other clusters are ignored
	Root        string
	Bucket      string
	Prefix      string
	MaxAttempts int // per file; values below 1 mean a single attempt
}

// File is one regular file discovered under the root.
type File struct {
	Path string
	Key  string
	Size int64
}

// Job is the set of files enumerated at the start of a sync.
type Job struct {
	Root   string
	Bucket string
	Prefix string
	Files  []File
}

// Report summarizes a sync run.
type Report struct {
	Ignored       bool          `json:"ignored,omitempty"`
	Files         int           `json:"files"`
	Uploaded      int64         `json:"uploaded"`
	Bytes         int64         `json:"bytes"`
	Duration      time.Duration `json:"duration"`
	FailedKey     string        `json:"failedKey,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// UploadError reports the first file that could not be copied.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Synchronizer mirrors a directory tree to S3.
type Synchronizer struct {
	cfg     Config
	fs      afero.Fs
	s3      S3API
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	// newBackOff is replaced in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// New creates a Synchronizer reading from fs.
func New(cfg Config, fs afero.Fs, client S3API, logger zerolog.Logger, metrics *telemetry.Metrics) *Synchronizer {
	return &Synchronizer{
		cfg:        cfg,
		fs:         fs,
		s3:         client,
		logger:     logger,
		metrics:    metrics,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// MatchesCluster reports whether a notification's cluster ARN (or bare name)
// refers to the configured cluster.
func MatchesCluster(clusterArn, cluster string) bool {
	return cluster != "" && api.ClusterName(clusterArn) == cluster
}

// HandleEvent runs a sync for a teardown notification of the configured
// cluster. Notifications for other clusters return an ignored report without
// touching the filesystem or S3.
func (s *Synchronizer) HandleEvent(ctx context.Context, ev api.TaskStateChange) (*Report, error) {
	if !MatchesCluster(ev.ClusterArn, s.cfg.Cluster) {
		s.logger.Info().Str("cluster_arn", ev.ClusterArn).Msg("another app triggered, skip for this cluster")
		return &Report{Ignored: true}, nil
	}
	s.logger.Info().Str("task", ev.TaskArn).Str("stopped_reason", ev.StoppedReason).Msg("task teardown, syncing shared folder")
	return s.Run(ctx)
}

// Run enumerates the root and uploads every file concurrently. The first
// failed upload cancels the rest and is returned as *UploadError; files that
// were already copied stay in S3.
func (s *Synchronizer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	logger := s.logger.With().Str("root", s.cfg.Root).Str("bucket", s.cfg.Bucket).Str("prefix", s.cfg.Prefix).Logger()

	job, err := Enumerate(s.fs, s.cfg.Root, s.cfg.Bucket, s.cfg.Prefix)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("files", len(job.Files)).Msg("syncing to S3")

	report := &Report{Files: len(job.Files)}
	var uploaded, bytes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range job.Files {
		g.Go(func() error {
			if err := s.upload(gctx, job.Bucket, f); err != nil {
				return &UploadError{Key: f.Key, Err: err}
			}
			uploaded.Add(1)
			bytes.Add(f.Size)
			s.metrics.Uploaded(f.Size)
			logger.Debug().Str("key", f.Key).Int64("size", f.Size).Msg("uploaded")
			return nil
		})
	}
	err = g.Wait()

	report.Uploaded = uploaded.Load()
	report.Bytes = bytes.Load()
	report.Duration = time.Since(start)
	if err != nil {
		var ue *UploadError
		if errors.As(err, &ue) {
			report.FailedKey = ue.Key
		}
		report.FailureReason = err.Error()
		logger.Error().Err(err).Int64("uploaded", report.Uploaded).Int("files", report.Files).Msg("sync S3 failed")
		return report, err
	}
	logger.Info().Int64("uploaded", report.Uploaded).Int64("bytes", report.Bytes).Dur("duration", report.Duration).Msg("sync S3 completed")
	return report, nil
}

func (s *Synchronizer) upload(ctx context.Context, bucket string, f File) error {
	attempts := uint(max(s.cfg.MaxAttempts, 1))
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		file, err := s.fs.Open(f.Path)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		defer file.Close()

		_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(f.Key),
			Body:          file,
			ContentLength: aws.Int64(f.Size),
		})
		if err != nil {
			s.metrics.UploadError()
			s.logger.Warn().Err(err).Str("key", f.Key).Msg("upload attempt failed")
		}
		return struct{}{}, err
	}, backoff.WithBackOff(s.newBackOff()), backoff.WithMaxTries(attempts))
	return err
}

// Enumerate lists every regular file under root. Keys are the paths relative
// to root, joined under prefix with forward slashes and no leading slash.
func Enumerate(fs afero.Fs, root, bucket, prefix string) (*Job, error) {
	job := &Job{Root: root, Bucket: bucket, Prefix: prefix}
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		job.Files = append(job.Files, File{
			Path: p,
			Key:  ObjectKey(prefix, rel),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}
	return job, nil
}

// ObjectKey roots a relative file path under prefix.
func ObjectKey(prefix, rel string) string {
	key := path.Join("/", strings.Trim(filepath.ToSlash(prefix), "/"), filepath.ToSlash(rel))
	return strings.TrimPrefix(key, "/")
}
