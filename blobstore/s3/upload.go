package s3

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadConfig tunes multipart segment uploads.
type UploadConfig struct {
	// PartSize is the multipart part size in bytes. Default: 8MB.
	PartSize int64

	// Concurrency is the number of concurrent part uploads. Default: 5.
	Concurrency int

	// LeavePartsOnError keeps uploaded parts of a failed upload instead
	// of aborting it. Default: false.
	LeavePartsOnError bool
}

// DefaultUploadConfig returns production-oriented upload settings.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:    8 * 1024 * 1024,
		Concurrency: 5,
	}
}

// streamingUpload implements blobstore.WritableBlob over a pipe feeding
// the SDK's parallel multipart uploader. Close finishes the upload and
// reports its outcome; the object is visible only on a nil Close.
type streamingUpload struct {
	pw     *io.PipeWriter
	done   chan error
	closed atomic.Bool
}

func newStreamingUpload(ctx context.Context, client Client, bucket, key string, cfg UploadConfig) *streamingUpload {
	pr, pw := io.Pipe()
	u := &streamingUpload{
		pw:   pw,
		done: make(chan error, 1),
	}
	uploader := manager.NewUploader(client, func(up *manager.Uploader) {
		if cfg.PartSize > 0 {
			up.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			up.Concurrency = cfg.Concurrency
		}
		up.LeavePartsOnError = cfg.LeavePartsOnError
	})
	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		u.done <- err
	}()
	return u
}

func (u *streamingUpload) Write(p []byte) (int, error) {
	if u.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return u.pw.Write(p)
}

func (u *streamingUpload) Sync() error { return nil }

func (u *streamingUpload) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := u.pw.Close(); err != nil {
		return err
	}
	return <-u.done
}
