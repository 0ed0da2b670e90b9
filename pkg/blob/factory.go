package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BackendType selects the evidence storage backend.
type BackendType string

const (
	BackendFS  BackendType = "fs"
	BackendS3  BackendType = "s3"
	BackendGCS BackendType = "gcs"
)

// NewFromEnv builds a blob store from environment variables.
//
//   - EVIDENCE_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the filesystem store (default "data")
//
// For S3:
//   - EVIDENCE_S3_BUCKET (required)
//   - EVIDENCE_S3_REGION or AWS_REGION
//   - EVIDENCE_S3_ENDPOINT (optional, MinIO/LocalStack)
//   - EVIDENCE_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - EVIDENCE_GCS_BUCKET (required)
//   - EVIDENCE_GCS_PREFIX (optional)
func NewFromEnv(ctx context.Context) (Store, error) {
	backend := BackendType(os.Getenv("EVIDENCE_STORAGE_TYPE"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "evidence"))
	case BackendS3:
		bucket := os.Getenv("EVIDENCE_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("EVIDENCE_S3_BUCKET is required for S3 storage")
		}
		region := os.Getenv("EVIDENCE_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("EVIDENCE_S3_ENDPOINT"),
			Prefix:   os.Getenv("EVIDENCE_S3_PREFIX"),
		})
	case BackendGCS:
		return newGCSFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported evidence storage type: %s", backend)
	}
}
