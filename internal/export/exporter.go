package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// S3API is the subset of the S3 client used for exports
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DefaultDir is the export directory used when none is configured
const DefaultDir = "exports"

// Exporter writes snapshot history as a JSON array to a file under its
// export directory or to an s3://bucket/key destination.
type Exporter struct {
	s3  S3API
	dir string
	log logger.Logger
}

// NewExporter creates an exporter writing local files under dir. client may
// be nil, in which case s3:// destinations fail.
func NewExporter(client S3API, dir string, log logger.Logger) *Exporter {
	if dir == "" {
		dir = DefaultDir
	}
	return &Exporter{s3: client, dir: dir, log: log.WithField("component", "exporter")}
}

// NewS3Exporter loads the default AWS configuration for region
func NewS3Exporter(ctx context.Context, region, dir string, log logger.Logger) (*Exporter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeExportFailure, "failed to load AWS config")
	}
	return NewExporter(s3.NewFromConfig(cfg), dir, log), nil
}

// ParseS3URI splits s3://bucket/key. ok is false for other destinations.
func ParseS3URI(dest string) (bucket, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(dest, "s3://")
	if !found {
		return "", "", false, nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", true, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"s3 destination needs a bucket and a key", dest, nil)
	}
	return bucket, key, true, nil
}

// Export writes snapshots to dest
func (e *Exporter) Export(ctx context.Context, dest string, snapshots []types.SystemMetricsSnapshot) error {
	if dest == "" {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "export destination is required", nil)
	}
	if snapshots == nil {
		snapshots = []types.SystemMetricsSnapshot{}
	}
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeExportFailure, "failed to encode snapshots")
	}

	bucket, key, isS3, err := ParseS3URI(dest)
	if err != nil {
		return err
	}
	if isS3 {
		err = e.putS3(ctx, bucket, key, data)
	} else {
		var path string
		if path, err = e.localPath(dest); err == nil {
			err = writeFile(path, data)
		}
	}
	if err != nil {
		return err
	}
	e.log.Info("Exported metrics", "destination", dest, "snapshots", len(snapshots), "bytes", len(data))
	return nil
}

// localPath resolves dest inside the export directory. Absolute paths and
// paths leaving the directory are rejected.
func (e *Exporter) localPath(dest string) (string, error) {
	if !filepath.IsLocal(dest) {
		return "", apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"export destination must be a relative path inside the export directory", dest, nil)
	}
	return filepath.Join(e.dir, dest), nil
}

func (e *Exporter) putS3(ctx context.Context, bucket, key string, data []byte) error {
	if e.s3 == nil {
		return apperrors.NewAppError(apperrors.ErrCodeExportFailure, "s3 export is not configured", nil)
	}
	_, err := e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeExportFailure, fmt.Sprintf("failed to upload s3://%s/%s", bucket, key))
	}
	return nil
}

// writeFile writes through a temp file in the same directory and renames it
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeExportFailure, "failed to create export directory")
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeExportFailure, "failed to create export file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.WrapError(err, apperrors.ErrCodeExportFailure, "failed to write export file")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeExportFailure, "failed to write export file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeExportFailure, "failed to move export file")
	}
	return nil
}
