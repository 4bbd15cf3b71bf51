package firebase

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"sosband-backend/config"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// StorageClient stores SOS profile photos. Handlers depend on this interface
// so tests can substitute a fake.
type StorageClient interface {
	UploadProfilePhoto(ctx context.Context, braceletID uuid.UUID, file io.Reader, filename, contentType string) (string, error)
	DeleteFile(ctx context.Context, objectPath string) error
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename keeps only letters, digits, dot, dash and underscore and
// caps the length at 100.
func sanitizeFilename(filename string) string {
	sanitized := unsafeChars.ReplaceAllString(filename, "_")
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		sanitized = "file"
	}
	return sanitized
}

// photoObjectPath is profiles/<bracelet>/<unix>_<name>. The timestamp keeps
// a replaced photo from being served from a stale CDN entry.
func photoObjectPath(braceletID uuid.UUID, filename string, now time.Time) string {
	return path.Join("profiles", braceletID.String(), fmt.Sprintf("%d_%s", now.Unix(), sanitizeFilename(filename)))
}

func publicURL(bucket, objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectPath)
}

// Storage is the Firebase Storage implementation of StorageClient.
type Storage struct {
	app    *firebase.App
	bucket string
	logger *zap.Logger
}

// Init connects to Firebase when a storage bucket is configured. It returns
// nil, nil when photo upload is disabled.
func Init(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	if cfg.FirebaseStorageBucket == "" {
		return nil, nil
	}

	var opts []option.ClientOption
	switch creds := cfg.GoogleCredentials; {
	case strings.HasPrefix(creds, "{"):
		logger.Info("using Firebase credentials from environment variable")
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	case creds != "":
		logger.Info("using Firebase credentials from file", zap.String("path", creds))
		opts = append(opts, option.WithCredentialsFile(creds))
	default:
		logger.Warn("GOOGLE_APPLICATION_CREDENTIALS not set, using default credentials")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init failed: %w", err)
	}
	logger.Info("firebase initialized", zap.String("bucket", cfg.FirebaseStorageBucket))
	return &Storage{app: app, bucket: cfg.FirebaseStorageBucket, logger: logger}, nil
}

func (s *Storage) bucketHandle(ctx context.Context) (*storage.BucketHandle, error) {
	client, err := s.app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage client: %w", err)
	}
	return client.Bucket(s.bucket)
}

// UploadProfilePhoto writes the photo and makes it publicly readable, since
// the public SOS page links to it directly. It returns the public URL.
func (s *Storage) UploadProfilePhoto(ctx context.Context, braceletID uuid.UUID, file io.Reader, filename, contentType string) (string, error) {
	bucket, err := s.bucketHandle(ctx)
	if err != nil {
		return "", err
	}

	objectPath := photoObjectPath(braceletID, filename, time.Now())
	obj := bucket.Object(objectPath)
	wc := obj.NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := io.Copy(wc, file); err != nil {
		wc.Close()
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		s.logger.Warn("failed to set public ACL", zap.String("object", objectPath), zap.Error(err))
	}

	return publicURL(s.bucket, objectPath), nil
}

func (s *Storage) DeleteFile(ctx context.Context, objectPath string) error {
	bucket, err := s.bucketHandle(ctx)
	if err != nil {
		return err
	}
	if err := bucket.Object(objectPath).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", objectPath, err)
	}
	s.logger.Info("deleted file", zap.String("object", objectPath), zap.String("bucket", s.bucket))
	return nil
}
