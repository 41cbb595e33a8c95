package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const (
	StorageProviderGCS   = "gcs"
	StorageProviderLocal = "local"
)

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}

// ArtifactStorage persists rendered report artifacts and returns the stored
// object's access path. The engine does not own download semantics; the URL is
// handed to the distribution side as-is.
type ArtifactStorage interface {
	Save(ctx context.Context, objectName string, contentType string, data []byte) (string, error)
}

// NewArtifactStorage selects the provider from env. GCS in production, a local
// directory for dev boxes without cloud credentials.
func NewArtifactStorage() ArtifactStorage {
	if GetStorageProvider() == StorageProviderLocal {
		return &localArtifactStorage{dir: artifactDir()}
	}
	return &gcsArtifactStorage{}
}

func artifactDir() string {
	dir := strings.TrimSpace(os.Getenv("REPORT_ARTIFACT_DIR"))
	if dir == "" {
		dir = "artifacts"
	}
	return dir
}

type localArtifactStorage struct {
	dir string
}

func (s *localArtifactStorage) Save(_ context.Context, objectName string, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, objectName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type gcsArtifactStorage struct{}

// getGoogleClient initializes a Google Cloud Storage client.
// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *gcsArtifactStorage) Save(ctx context.Context, objectName string, contentType string, data []byte) (string, error) {
	bucketName := os.Getenv("REPORT_ARTIFACT_BUCKET")
	if bucketName == "" {
		return "", errors.New("REPORT_ARTIFACT_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}

	return fmt.Sprintf("gs://%s/%s", bucketName, objectName), nil
}
