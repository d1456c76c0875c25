// Package objectstore uploads media to an S3-compatible bucket (Cloudflare R2
// in production).
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// CacheControl is set on every uploaded object.
const CacheControl = "public, max-age=31536000"

// Config holds bucket settings.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicURL is the CDN base objects are served from. Defaults to Endpoint/Bucket.
	PublicURL string
}

// Missing lists the environment variables a complete configuration still needs.
func (c Config) Missing() []string {
	var missing []string
	if c.Bucket == "" {
		missing = append(missing, "CLOUDFLARE_BUCKET_NAME")
	}
	if c.Endpoint == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if c.AccessKey == "" {
		missing = append(missing, "CLOUDFLARE_ACCESS_KEY_ID")
	}
	if c.SecretKey == "" {
		missing = append(missing, "CLOUDFLARE_SECRET_ACCESS_KEY")
	}
	return missing
}

// Store is an S3 client bound to one bucket.
type Store struct {
	client *s3.Client
	cfg    Config
}

// New builds a path-style client. A configuration with missing fields yields
// a Store whose operations fail, so the rest of the server can still start.
func New(cfg Config) *Store {
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	// Endpoints are sometimes configured with the bucket appended.
	if cfg.Endpoint != "" && cfg.Bucket != "" && strings.HasSuffix(cfg.Endpoint, "/"+cfg.Bucket) {
		cleaned := strings.TrimSuffix(cfg.Endpoint, "/"+cfg.Bucket)
		log.Warn().Str("originalEndpoint", cfg.Endpoint).Str("cleanedEndpoint", cleaned).Str("bucket", cfg.Bucket).
			Msg("Cleaned bucket name from S3 endpoint - endpoint should not contain bucket name")
		cfg.Endpoint = cleaned
	}
	if cfg.PublicURL == "" && cfg.Endpoint != "" {
		cfg.PublicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	st := &Store{cfg: cfg}
	if missing := cfg.Missing(); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("Object storage not fully configured, uploads are disabled")
		return st
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	st.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	log.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Str("endpoint", cfg.Endpoint).Msg("S3 client initialized")
	return st
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) ready() error {
	if s.client == nil {
		return fmt.Errorf("object storage not configured: missing %s", strings.Join(s.cfg.Missing(), ", "))
	}
	return nil
}

// Put uploads data under key with a long-lived cache header.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(CacheControl),
	}
	if strings.HasPrefix(contentType, "image/") {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		log.Error().
			Str("key", key).
			Str("bucket", s.cfg.Bucket).
			Str("mimeType", contentType).
			Int("size", len(data)).
			Err(err).
			Msg("Failed to upload file to S3")
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().
		Str("key", key).
		Str("bucket", s.cfg.Bucket).
		Str("mimeType", contentType).
		Int("size", len(data)).
		Msg("File successfully uploaded to S3")
	return nil
}

// Delete removes keys, used to roll back a partially uploaded set of renditions.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.cfg.Bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}

// PublicURL is the URL key is served from.
func (s *Store) PublicURL(key string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + key
}

// TestConnection lists at most one object to check credentials and bucket.
func (s *Store) TestConnection(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.Bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}
