// Package blob provides content-addressed storage for raw RFC822 bytes and
// attachment payloads, adapted from the teacher's HTTP blob client
// (presigned upload ceremony) into a generic put/get/signed_url contract
// with two concrete backends.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Error types for blob operations.
var (
	ErrNotFound = errors.New("blob: content not found")
	ErrServer   = errors.New("blob: backend error")
)

// Store is opaque to content: no parsing happens here. Content hash is
// SHA-256 of the payload, so repeated Put calls with identical bytes are
// idempotent by construction.
type Store interface {
	// Put stores content_bytes and returns its content hash.
	Put(ctx context.Context, organizationID string, content []byte) (contentHash string, err error)
	// Get retrieves bytes by content hash.
	Get(ctx context.Context, organizationID, contentHash string) ([]byte, error)
	// SignedURL returns a short-lived URL when the backend supports
	// presigning, or ("", nil) when callers must fall back to streaming
	// through an authorized endpoint.
	SignedURL(ctx context.Context, organizationID, contentHash string, ttl time.Duration) (string, error)
}

// ContentHash computes the content-addressing key for a payload.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Key builds the persisted layout path for a blob: oss/<org_id>/<content_hash>.
func Key(organizationID, contentHash string) string {
	return "oss/" + organizationID + "/" + contentHash
}
