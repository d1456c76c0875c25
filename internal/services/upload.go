package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"
	_ "golang.org/x/image/webp"

	"chatbridge/internal/adapters/objectstore"
	"chatbridge/internal/apperr"
)

// MaxUploadSize is the largest accepted upload.
const MaxUploadSize = 10 << 20

const (
	smallWidth      = 300
	smallQuality    = 80
	originalQuality = 85
)

// ObjectStore is where renditions are uploaded.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, keys ...string) error
	PublicURL(key string) string
	TestConnection(ctx context.Context) error
	Config() objectstore.Config
}

// UploadResult is returned for a stored image.
type UploadResult struct {
	Filename    string            `json:"filename"`
	OriginalURL string            `json:"originalUrl"`
	Sizes       map[string]string `json:"sizes"`
}

// UploadService transcodes images into a small and an original rendition and
// stores both.
type UploadService struct {
	store ObjectStore
}

// NewUploadService creates a new UploadService.
func NewUploadService(store ObjectStore) (*UploadService, error) {
	if store == nil {
		return nil, fmt.Errorf("object store cannot be nil")
	}
	return &UploadService{store: store}, nil
}

// DecodeDataURL unpacks a data: URL into its bytes and media type.
func DecodeDataURL(s string) ([]byte, string, error) {
	du, err := dataurl.DecodeString(s)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Invalid, "Invalid data URL", err)
	}
	return du.Data, du.MediaType.ContentType(), nil
}

type rendition struct {
	key  string
	data []byte
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Upload validates, transcodes and stores an image. Both renditions are JPEG;
// the small one is scaled down to 300px wide.
func (s *UploadService) Upload(ctx context.Context, data []byte, contentType string) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.MissingRequiredField, "No file provided")
	}
	if len(data) > MaxUploadSize {
		return nil, apperr.New(apperr.Invalid, "File exceeds the 10MB limit")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperr.New(apperr.Invalid, "Only image files are allowed")
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.Invalid, "Unsupported or corrupt image", err)
	}

	small := img
	if img.Bounds().Dx() > smallWidth {
		small = resize.Resize(smallWidth, 0, img, resize.Lanczos3)
	}
	smallData, err := encodeJPEG(small, smallQuality)
	if err != nil {
		return nil, apperr.Wrap(apperr.UploadError, "Failed to encode image", err)
	}
	originalData, err := encodeJPEG(img, originalQuality)
	if err != nil {
		return nil, apperr.Wrap(apperr.UploadError, "Failed to encode image", err)
	}

	filename := uuid.NewString() + ".jpg"
	renditions := []rendition{
		{key: "small/" + filename, data: smallData},
		{key: "original/" + filename, data: originalData},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(renditions))
	for i, r := range renditions {
		wg.Add(1)
		go func(i int, r rendition) {
			defer wg.Done()
			errs[i] = s.store.Put(ctx, r.key, r.data, "image/jpeg")
		}(i, r)
	}
	wg.Wait()

	var stored []string
	var firstErr error
	for i, err := range errs {
		if err == nil {
			stored = append(stored, renditions[i].key)
		} else if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		if err := s.store.Delete(ctx, stored...); err != nil {
			log.Warn().Err(err).Strs("keys", stored).Msg("Failed to roll back partial upload")
		}
		return nil, apperr.Wrap(apperr.UploadError, "Failed to upload image", firstErr)
	}

	originalURL := s.store.PublicURL("original/" + filename)
	log.Info().Str("filename", filename).Str("sourceFormat", format).
		Int("smallBytes", len(smallData)).Int("originalBytes", len(originalData)).
		Msg("Image uploaded")
	return &UploadResult{
		Filename:    filename,
		OriginalURL: originalURL,
		Sizes: map[string]string{
			"small":    s.store.PublicURL("small/" + filename),
			"original": originalURL,
		},
	}, nil
}

// TestConfig reports the storage configuration and whether the bucket is reachable.
func (s *UploadService) TestConfig(ctx context.Context) map[string]any {
	cfg := s.store.Config()
	missing := cfg.Missing()
	out := map[string]any{
		"config": map[string]any{
			"bucketName":         cfg.Bucket,
			"cdnUrl":             cfg.PublicURL,
			"s3Endpoint":         cfg.Endpoint,
			"hasAccessKey":       cfg.AccessKey != "",
			"hasSecretKey":       cfg.SecretKey != "",
			"bucketConfigured":   cfg.Bucket != "",
			"endpointConfigured": cfg.Endpoint != "",
		},
		"missing": missing,
	}
	if len(missing) > 0 {
		out["status"] = "missing_variables"
		out["message"] = "Missing environment variables: " + strings.Join(missing, ", ")
		return out
	}
	out["status"] = "configured"
	if err := s.store.TestConnection(ctx); err != nil {
		out["reachable"] = false
		out["message"] = "Bucket check failed: " + err.Error()
	} else {
		out["reachable"] = true
		out["message"] = "Object storage configuration complete"
	}
	return out
}
