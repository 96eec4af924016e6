package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/solwatch/tokenbot/internal/domain"
)

// multipartThreshold is the payload size above which Put switches to the
// multipart upload manager. S3 requires parts of at least 5 MiB.
const multipartThreshold = 5 * 1024 * 1024

// Writer uploads archive objects to the client's bucket and implements
// domain.Archiver.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer over the given client.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads one object in a single request.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// ArchiveJSONL marshals records one JSON object per line and uploads the
// batch under the given key. Large batches go through the multipart
// uploader.
func (w *Writer) ArchiveJSONL(ctx context.Context, key string, records []any) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode archive record: %w", err)
		}
	}

	if buf.Len() < multipartThreshold {
		return w.Put(ctx, key, &buf, "application/x-ndjson")
	}

	uploader := manager.NewUploader(w.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

var _ domain.Archiver = (*Writer)(nil)
