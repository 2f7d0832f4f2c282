package archive

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/storage/postgres"
)

type fakeSource struct {
	rows     []postgres.ArchivedReport
	afterIDs []string
	err      error
}

func (f *fakeSource) ListExpiredBatch(_ context.Context, _ time.Time, afterID string, limit int) ([]postgres.ArchivedReport, error) {
	f.afterIDs = append(f.afterIDs, afterID)
	if f.err != nil {
		return nil, f.err
	}

	start := 0
	for start < len(f.rows) && f.rows[start].ID <= afterID {
		start++
	}
	end := start + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[start:end], nil
}

type putCall struct {
	key     string
	reports []postgres.ArchivedReport
}

type fakePutter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	reports, err := decodeNDJSON(input.Body)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, putCall{key: *input.Key, reports: reports})
	return &s3.PutObjectOutput{}, nil
}

func decodeNDJSON(body io.Reader) ([]postgres.ArchivedReport, error) {
	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var out []postgres.ArchivedReport
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var report postgres.ArchivedReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, scanner.Err()
}

func row(id, project string, receivedAt time.Time) postgres.ArchivedReport {
	return postgres.ArchivedReport{
		ID:                 id,
		GroupID:            "g1",
		ProjectID:          project,
		ReceivedAt:         receivedAt,
		EffectiveDirective: "script-src",
		BlockedURI:         "https://evil.example",
		DocumentURI:        "https://app.example",
		Fields:             json.RawMessage(`{"effective_directive":"script-src"}`),
	}
}

func TestArchiveBefore_PartitionsByProjectAndDay(t *testing.T) {
	day1 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 6, 11, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []postgres.ArchivedReport{
		row("r1", "web", day1),
		row("r2", "web", day1),
		row("r3", "admin", day2),
	}}
	putter := &fakePutter{}

	exporter := NewExporter(source, putter, "csp-bucket", "csp-archive", 100, 2, zap.NewNop())
	total, err := exporter.ArchiveBefore(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, putter.calls, 2)

	byPartition := map[string]putCall{}
	webKey := regexp.MustCompile(`^csp-archive/web/2024-01-05/reports-[0-9a-f-]+\.ndjson\.gz$`)
	adminKey := regexp.MustCompile(`^csp-archive/admin/2024-01-06/reports-[0-9a-f-]+\.ndjson\.gz$`)
	for _, call := range putter.calls {
		switch {
		case webKey.MatchString(call.key):
			byPartition["web"] = call
		case adminKey.MatchString(call.key):
			byPartition["admin"] = call
		default:
			t.Fatalf("unexpected object key %q", call.key)
		}
	}

	require.Len(t, byPartition["web"].reports, 2)
	assert.Equal(t, "r1", byPartition["web"].reports[0].ID)
	assert.Equal(t, "r2", byPartition["web"].reports[1].ID)
	assert.JSONEq(t, `{"effective_directive":"script-src"}`, string(byPartition["web"].reports[0].Fields))

	require.Len(t, byPartition["admin"].reports, 1)
	assert.Equal(t, "r3", byPartition["admin"].reports[0].ID)
}

func TestArchiveBefore_WalksBatches(t *testing.T) {
	day := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []postgres.ArchivedReport{
		row("r1", "web", day),
		row("r2", "web", day),
		row("r3", "web", day),
	}}
	putter := &fakePutter{}

	exporter := NewExporter(source, putter, "csp-bucket", "csp-archive", 2, 2, zap.NewNop())
	total, err := exporter.ArchiveBefore(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, int64(3), total)
	assert.Equal(t, []string{"", "r2"}, source.afterIDs)
	assert.Len(t, putter.calls, 2)
}

func TestArchiveBefore_NothingExpired(t *testing.T) {
	source := &fakeSource{}
	putter := &fakePutter{}

	exporter := NewExporter(source, putter, "csp-bucket", "csp-archive", 100, 2, zap.NewNop())
	total, err := exporter.ArchiveBefore(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, putter.calls)
}

func TestArchiveBefore_UploadFailureAborts(t *testing.T) {
	day := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []postgres.ArchivedReport{row("r1", "web", day)}}
	putter := &fakePutter{err: errors.New("access denied")}

	exporter := NewExporter(source, putter, "csp-bucket", "csp-archive", 100, 2, zap.NewNop())
	total, err := exporter.ArchiveBefore(context.Background(), time.Now())

	require.Error(t, err)
	assert.Zero(t, total)
}
