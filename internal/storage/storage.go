package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage persists media files (chat attachments, campaign media, avatars)
// in an S3-compatible bucket, keyed by organization.
type Storage struct {
	client      *minio.Client
	bucket      string
	publicURL   string
	internalURL string // internal endpoint (for URL replacement)
}

// Config holds MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// New creates a new Storage instance
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	s := &Storage{
		client:      client,
		bucket:      cfg.Bucket,
		publicURL:   cfg.PublicURL,
		internalURL: fmt.Sprintf("%s://%s", scheme, cfg.Endpoint),
	}

	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (s *Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		// Media URLs are handed to the gateway and browsers directly, so
		// objects need public read.
		policy := fmt.Sprintf(`{
			"Version": "2012-10-17",
			"Statement": [
				{
					"Effect": "Allow",
					"Principal": {"AWS": ["*"]},
					"Action": ["s3:GetObject"],
					"Resource": ["arn:aws:s3:::%s/*"]
				}
			]
		}`, s.bucket)

		if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
			return fmt.Errorf("failed to set bucket policy: %w", err)
		}
	}

	return nil
}

// UploadFile uploads a byte slice and returns its public URL. The object key
// is orgID/objectPath so tenant media never collides.
func (s *Storage) UploadFile(ctx context.Context, orgID uuid.UUID, objectPath string, data []byte, contentType string) (string, error) {
	return s.UploadReader(ctx, orgID, objectPath, bytes.NewReader(data), int64(len(data)), contentType)
}

// UploadReader uploads from a reader and returns the public URL.
func (s *Storage) UploadReader(ctx context.Context, orgID uuid.UUID, objectPath string, reader io.Reader, size int64, contentType string) (string, error) {
	objectKey := path.Join(orgID.String(), objectPath)

	_, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, objectKey), nil
}

// GetPresignedUploadURL generates a presigned URL for direct upload
func (s *Storage) GetPresignedUploadURL(ctx context.Context, orgID uuid.UUID, objectPath string) (string, error) {
	objectKey := path.Join(orgID.String(), objectPath)

	presignedURL, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	// Replace internal URL with public URL for browser access
	urlStr := presignedURL.String()
	if s.publicURL != "" && s.internalURL != "" {
		urlStr = strings.Replace(urlStr, s.internalURL, s.publicURL, 1)
	}

	return urlStr, nil
}

// DeleteFile removes a file from storage
func (s *Storage) DeleteFile(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// ExtractObjectKey extracts the object key from a full URL
func (s *Storage) ExtractObjectKey(fullURL string) (string, error) {
	parsed, err := url.Parse(fullURL)
	if err != nil {
		return "", err
	}

	objectPath := parsed.Path
	prefix := "/" + s.bucket + "/"
	if len(objectPath) > len(prefix) {
		return objectPath[len(prefix):], nil
	}

	return objectPath, nil
}

// OwnedBy reports whether an object key sits under the organization's prefix.
func OwnedBy(objectKey string, orgID uuid.UUID) bool {
	return strings.HasPrefix(objectKey, orgID.String()+"/")
}

// ChatMediaPath builds the object path for a downloaded chat attachment.
func ChatMediaPath(chatID uuid.UUID, gatewayID, mimetype string) string {
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(mimetype); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return path.Join("chats", chatID.String(), gatewayID+ext)
}

// CampaignMediaPath builds the object path for campaign media.
func CampaignMediaPath(extension string) string {
	return path.Join("campaigns", uuid.New().String()+extension)
}

// UploadPath builds the object path for a user-uploaded chat attachment.
func UploadPath(extension string) string {
	return path.Join("uploads", uuid.New().String()+extension)
}
