package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the store needs, kept narrow for
// dependency inversion in tests, the same convention the teacher's
// HTTPDoer/BlobStreamer interfaces follow.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store stores blobs in an S3-compatible bucket and supports presigned
// GET URLs, generalizing the teacher's two-step presigned-upload ceremony
// (internal/blob/presigned_upload.go) into a single put/presign contract.
// Uploads go through manager.Uploader so large attachment payloads are
// split into multipart requests automatically.
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
	prefix   string
}

// NewS3Store creates an S3Store over bucket, keying objects under prefix.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (s *S3Store) key(organizationID, contentHash string) string {
	if s.prefix == "" {
		return Key(organizationID, contentHash)
	}
	return s.prefix + "/" + Key(organizationID, contentHash)
}

// Put uploads content, skipping the upload if an object with the same
// content hash already exists (content-addressed storage is idempotent by
// construction). The upload itself goes through manager.Uploader, which
// transparently splits large attachment payloads into multipart requests.
func (s *S3Store) Put(ctx context.Context, organizationID string, content []byte) (string, error) {
	hash := ContentHash(content)
	key := s.key(organizationID, hash)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return hash, nil
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrServer, key, err)
	}
	return hash, nil
}

// Get downloads a blob by content hash.
func (s *S3Store) Get(ctx context.Context, organizationID, contentHash string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(organizationID, contentHash)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get: %v", ErrServer, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// SignedURL returns a presigned GET URL valid for ttl.
func (s *S3Store) SignedURL(ctx context.Context, organizationID, contentHash string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(organizationID, contentHash)),
	}, s3.WithPresignExpires(ttl), func(po *s3.PresignOptions) {})
	if err != nil {
		return "", fmt.Errorf("%w: presign: %v", ErrServer, err)
	}
	return req.URL, nil
}
