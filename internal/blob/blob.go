// Package blob resolves opaque file handles (message attachments, avatars,
// thumbnails) into short-lived download URLs on an S3-compatible store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"nosmobile/internal/models"
	"nosmobile/internal/observability"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const defaultURLTTL = 15 * time.Minute

var (
	// ErrNotConfigured means no blob store endpoint was configured.
	ErrNotConfigured = errors.New("blob store is not configured")
	// ErrUnavailable means the circuit breaker is rejecting calls.
	ErrUnavailable = errors.New("blob store is unavailable")
)

// Config describes the object store holding uploaded files.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

// Signer produces presigned GET urls. *minio.Client satisfies it.
type Signer interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Store resolves handles through a Signer guarded by a circuit breaker.
type Store struct {
	signer  Signer
	bucket  string
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
}

// New connects to the configured store. It returns ErrNotConfigured when no
// endpoint is set.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("blob bucket is empty")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewWithSigner(client, cfg.Bucket, cfg.URLTTL), nil
}

// NewWithSigner builds a Store around an existing signer.
func NewWithSigner(signer Signer, bucket string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultURLTTL
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "blob-store",
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.BlobBreakerState.Set(float64(to))
			observability.Warn(context.Background(), "circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Store{signer: signer, bucket: bucket, ttl: ttl, breaker: breaker}
}

// URL returns a presigned download url for handle and its expiry.
func (s *Store) URL(ctx context.Context, handle string) (string, time.Time, error) {
	object, err := objectName(handle)
	if err != nil {
		return "", time.Time{}, err
	}

	expires := time.Now().Add(s.ttl)
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.signer.PresignedGetObject(ctx, s.bucket, object, s.ttl, nil)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", time.Time{}, ErrUnavailable
		}
		observability.Warn(ctx, "presign failed", zap.String("object", object), zap.Error(err))
		return "", time.Time{}, models.NewInternalError(err)
	}
	return res.(*url.URL).String(), expires, nil
}

// objectName normalizes a stored handle into an object key.
func objectName(handle string) (string, error) {
	h := strings.TrimLeft(strings.TrimSpace(handle), "/")
	if h == "" {
		return "", models.NewValidationError("handle is required")
	}
	for _, part := range strings.Split(h, "/") {
		if part == ".." {
			return "", models.NewValidationError("handle must not contain '..'")
		}
	}
	return h, nil
}
