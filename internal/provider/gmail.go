package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// gmailUser is the special Gmail API user literal for "the authenticated
// account", matching the reference sync implementation.
const gmailUser = "me"

// GmailProvider talks to the real Gmail API, adapted from the reference
// FullScan/currentHistoryID routines (niraj8-things email/internal/gmail
// sync.go) into the Provider contract: the worker-pool fan-out there
// becomes plain per-call RPCs here, since bounded concurrency is now the
// Worker Host's job, not the provider's.
type GmailProvider struct {
	svc *gmailv1.Service
}

// NewGmailProvider builds a provider bound to one mailbox's OAuth2 token
// source. tokenSource typically comes from a refresh token decrypted via
// cryptoutil.Box.Open.
func NewGmailProvider(ctx context.Context, tokenSource oauth2.TokenSource) (*GmailProvider, error) {
	client := oauth2.NewClient(ctx, tokenSource)
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("provider: new gmail service: %w", err)
	}
	return &GmailProvider{svc: svc}, nil
}

func (p *GmailProvider) Profile(ctx context.Context) (Profile, error) {
	prof, err := withRetry(ctx, func() (*gmailv1.Profile, error) {
		return p.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	})
	if err != nil {
		return Profile{}, fmt.Errorf("provider: get profile: %w", err)
	}
	return Profile{
		EmailAddress: prof.EmailAddress,
		HistoryID:    strconv.FormatUint(prof.HistoryId, 10),
	}, nil
}

func (p *GmailProvider) ListMessages(ctx context.Context, pageToken string) ([]MessageRef, string, error) {
	call := p.svc.Users.Messages.List(gmailUser).IncludeSpamTrash(false).MaxResults(500).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := withRetry(ctx, func() (*gmailv1.ListMessagesResponse, error) {
		return call.Do()
	})
	if err != nil {
		return nil, "", fmt.Errorf("provider: list messages: %w", err)
	}
	refs := make([]MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, MessageRef{ProviderMessageID: m.Id, ProviderThreadID: m.ThreadId})
	}
	return refs, resp.NextPageToken, nil
}

func (p *GmailProvider) HistoryDelta(ctx context.Context, cursor string) ([]HistoryEvent, string, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCursorInvalid, err)
	}

	var events []HistoryEvent
	nextCursor := cursor
	pageToken := ""
	for {
		call := p.svc.Users.History.List(gmailUser).StartHistoryId(startID).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := withRetry(ctx, func() (*gmailv1.ListHistoryResponse, error) {
			return call.Do()
		})
		if err != nil {
			if isGoogleNotFound(err) {
				return nil, "", fmt.Errorf("%w: %v", ErrCursorInvalid, err)
			}
			return nil, "", fmt.Errorf("provider: history list: %w", err)
		}
		if resp.HistoryId != 0 {
			nextCursor = strconv.FormatUint(resp.HistoryId, 10)
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				events = append(events, HistoryEvent{Type: "added", ProviderMessageID: added.Message.Id})
			}
			for _, removed := range h.MessagesDeleted {
				events = append(events, HistoryEvent{Type: "removed", ProviderMessageID: removed.Message.Id})
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return events, nextCursor, nil
}

func (p *GmailProvider) FetchRaw(ctx context.Context, providerMessageID string) (RawMessage, error) {
	msg, err := withRetry(ctx, func() (*gmailv1.Message, error) {
		return p.svc.Users.Messages.Get(gmailUser, providerMessageID).Format("raw").Context(ctx).Do()
	})
	if err != nil {
		if isGoogleNotFound(err) {
			return RawMessage{}, ErrMessageGone
		}
		return RawMessage{}, fmt.Errorf("provider: fetch raw %s: %w", providerMessageID, err)
	}
	raw, err := base64URLDecode(msg.Raw)
	if err != nil {
		return RawMessage{}, fmt.Errorf("provider: decode raw %s: %w", providerMessageID, err)
	}
	return RawMessage{
		ProviderMessageID: msg.Id,
		ProviderThreadID:  msg.ThreadId,
		RFC822:            raw,
		LabelIDs:          msg.LabelIds,
	}, nil
}

// RetryAfter implements RateLimited. It always reports no server-provided
// delay (0, false), so callers fall back to the backoff policy's own delay.
func (p *GmailProvider) RetryAfter(error) (time.Duration, bool) {
	return 0, false
}

// withRetry wraps a Gmail RPC with the package's shared exponential
// backoff policy, retrying on transient (429/5xx) errors only.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn()
		if err != nil && isGoogleTransient(err) {
			return v, err
		}
		if err != nil {
			return v, backoff.Permanent(err)
		}
		return v, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(6),
	)
}

func isGoogleTransient(err error) bool {
	code := googleStatusCode(err)
	return code == http.StatusTooManyRequests || code >= 500
}

func isGoogleNotFound(err error) bool {
	return googleStatusCode(err) == http.StatusNotFound
}
