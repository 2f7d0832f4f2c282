package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cspwatch/cspwatch/internal/storage/postgres"
)

const (
	defaultBatchSize   = 1000
	defaultConcurrency = 4
)

// ReportSource walks expired reports in id-ordered batches.
type ReportSource interface {
	ListExpiredBatch(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]postgres.ArchivedReport, error)
}

// ObjectPutter is the slice of the S3 API the exporter uses, satisfied
// by *s3.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter writes expired reports to S3 as gzipped NDJSON, one object
// per project and day per batch, keyed
// {prefix}/{project}/{YYYY-MM-DD}/reports-{uuid}.ndjson.gz.
type Exporter struct {
	source      ReportSource
	client      ObjectPutter
	bucket      string
	prefix      string
	batchSize   int
	concurrency int
	logger      *zap.Logger
}

func NewExporter(source ReportSource, client ObjectPutter, bucket, prefix string, batchSize, concurrency int, logger *zap.Logger) *Exporter {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &Exporter{
		source:      source,
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ArchiveBefore exports every report older than cutoff and returns how
// many were written. A failed upload aborts the run so the retention
// sweep will not delete rows that never reached the bucket.
func (e *Exporter) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	afterID := ""

	for {
		batch, err := e.source.ListExpiredBatch(ctx, cutoff, afterID, e.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		if err := e.uploadBatch(ctx, batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
		afterID = batch[len(batch)-1].ID

		if len(batch) < e.batchSize {
			break
		}
	}

	if total > 0 {
		e.logger.Info("archived expired reports",
			zap.Time("cutoff", cutoff),
			zap.Int64("reports", total))
	}
	return total, nil
}

func (e *Exporter) uploadBatch(ctx context.Context, batch []postgres.ArchivedReport) error {
	partitions := map[string][]postgres.ArchivedReport{}
	for _, report := range batch {
		key := report.ProjectID + "/" + report.ReceivedAt.UTC().Format("2006-01-02")
		partitions[key] = append(partitions[key], report)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for partition, reports := range partitions {
		g.Go(func() error {
			return e.putObject(ctx, partition, reports)
		})
	}
	return g.Wait()
}

func (e *Exporter) putObject(ctx context.Context, partition string, reports []postgres.ArchivedReport) error {
	payload, err := encodeNDJSON(reports)
	if err != nil {
		return fmt.Errorf("encode archive object: %w", err)
	}

	key := fmt.Sprintf("%s/%s/reports-%s.ndjson.gz", e.prefix, partition, uuid.New().String())
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(e.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(payload),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", e.bucket, key, err)
	}
	return nil
}

func encodeNDJSON(reports []postgres.ArchivedReport) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, report := range reports {
		if err := enc.Encode(report); err != nil {
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
