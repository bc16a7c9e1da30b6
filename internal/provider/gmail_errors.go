package provider

import (
	"encoding/base64"
	"errors"

	"google.golang.org/api/googleapi"
)

// googleStatusCode extracts the HTTP status code from a googleapi.Error,
// returning 0 when err isn't one (e.g. a context cancellation or network
// error, which the backoff policy treats as non-retryable here since we
// can't tell transient from permanent without the status code).
func googleStatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// base64URLDecode decodes the raw message body Gmail returns, which uses
// unpadded URL-safe base64.
func base64URLDecode(s string) ([]byte, error) {
	return base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(s)
}
