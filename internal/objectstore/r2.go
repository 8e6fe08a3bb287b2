package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Config holds the Cloudflare R2 connection settings.
type R2Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PresignTTL      time.Duration
}

// R2Store stores objects in a Cloudflare R2 bucket through the S3 API.
type R2Store struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	presignTTL time.Duration
}

// NewR2Store creates an S3 client pointed at the R2 endpoint.
func NewR2Store(ctx context.Context, cfg R2Config) (*R2Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("R2 endpoint and bucket are required")
	}
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return newR2Store(client, cfg), nil
}

func newR2Store(client *s3.Client, cfg R2Config) *R2Store {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &R2Store{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		presignTTL: ttl,
	}
}

// Put uploads the object with a SHA-256 checksum in its metadata and returns a presigned URL.
func (s *R2Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*StoredObject, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to r2: %w", err)
	}

	url, err := s.URL(ctx, key, "")
	if err != nil {
		return nil, err
	}
	return &StoredObject{Key: key, URL: url, PreviewURL: url, Checksum: checksum}, nil
}

// Delete removes the object.
func (s *R2Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("object key cannot be empty")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from r2: %w", err)
	}
	return nil
}

// URL presigns a GET for the object. Presigned URLs expire, so a new one is made on every call.
func (s *R2Store) URL(ctx context.Context, key, _ string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign r2 object: %w", err)
	}
	return req.URL, nil
}
