package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/testutils"
	"tradewatch/internal/types"
)

type fakeS3 struct {
	bucket, key string
	body        []byte
	err         error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(params.Bucket)
	f.key = aws.ToString(params.Key)
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func snapshots() []types.SystemMetricsSnapshot {
	ts := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	return []types.SystemMetricsSnapshot{
		{Timestamp: ts, CPUUsage: 12.5, MemoryUsage: 40},
		{Timestamp: ts.Add(time.Minute), CPUUsage: 20, MemoryUsage: 41},
	}
}

func TestExportToFile(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	dest := filepath.Join("daily", "metrics.json")
	require.NoError(t, NewExporter(nil, suite.TempDir, suite.Logger).Export(context.Background(), dest, snapshots()))

	data, err := os.ReadFile(filepath.Join(suite.TempDir, "daily", "metrics.json"))
	require.NoError(t, err)
	var got []types.SystemMetricsSnapshot
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, 20.0, got[1].CPUUsage)
}

func TestExportEmptyHistoryWritesEmptyArray(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	require.NoError(t, NewExporter(nil, suite.TempDir, suite.Logger).Export(context.Background(), "empty.json", nil))
	data, err := os.ReadFile(filepath.Join(suite.TempDir, "empty.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestExportToS3(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	client := &fakeS3{}
	e := NewExporter(client, suite.TempDir, suite.Logger)
	require.NoError(t, e.Export(context.Background(), "s3://ops-bucket/tradewatch/metrics.json", snapshots()))
	assert.Equal(t, "ops-bucket", client.bucket)
	assert.Equal(t, "tradewatch/metrics.json", client.key)
	assert.Contains(t, string(client.body), `"cpu_usage": 12.5`)

	client.err = errors.New("access denied")
	err := e.Export(context.Background(), "s3://ops-bucket/metrics.json", snapshots())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeExportFailure))
}

func TestExportRejectsBadDestinations(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	e := NewExporter(nil, suite.TempDir, suite.Logger)

	assert.True(t, apperrors.HasCode(e.Export(context.Background(), "", nil), apperrors.ErrCodeInvalidInput))
	assert.True(t, apperrors.HasCode(e.Export(context.Background(), "s3://bucket-only", nil), apperrors.ErrCodeInvalidInput))
	assert.True(t, apperrors.HasCode(e.Export(context.Background(), "s3://bucket/key", nil), apperrors.ErrCodeExportFailure))
}

func TestExportStaysInsideExportDir(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	exportDir := filepath.Join(suite.TempDir, "exports")
	victim := filepath.Join(suite.TempDir, "victim.conf")
	require.NoError(t, os.WriteFile(victim, []byte("important=true"), 0o644))
	e := NewExporter(nil, exportDir, suite.Logger)

	for _, dest := range []string{victim, "../victim.conf", "daily/../../victim.conf", "."} {
		err := e.Export(context.Background(), dest, snapshots())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput), dest)
	}
	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "important=true", string(data))
	_, err = os.Stat(exportDir)
	assert.True(t, os.IsNotExist(err))
}

func TestParseS3URI(t *testing.T) {
	bucket, key, ok, err := ParseS3URI("s3://b/a/b/c.json")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "a/b/c.json", key)

	_, _, ok, err = ParseS3URI("/tmp/out.json")
	assert.NoError(t, err)
	assert.False(t, ok)
}
