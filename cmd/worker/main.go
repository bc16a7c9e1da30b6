// Package main boots the Worker Host: one long-running process that polls
// the jobs table and dispatches every job type (mailbox_backfill,
// mailbox_history_sync, occurrence_fetch_raw, occurrence_parse,
// occurrence_stitch, ticket_apply_routing) against a shared Postgres pool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/oss-support/journal-pipeline/internal/blob"
	"github.com/oss-support/journal-pipeline/internal/config"
	"github.com/oss-support/journal-pipeline/internal/cryptoutil"
	"github.com/oss-support/journal-pipeline/internal/mailbox"
	"github.com/oss-support/journal-pipeline/internal/obslog"
	"github.com/oss-support/journal-pipeline/internal/pipeline"
	"github.com/oss-support/journal-pipeline/internal/provider"
	"github.com/oss-support/journal-pipeline/internal/queue"
	"github.com/oss-support/journal-pipeline/internal/routing"
	"github.com/oss-support/journal-pipeline/internal/stitch"
	"github.com/oss-support/journal-pipeline/internal/store"
	"github.com/oss-support/journal-pipeline/internal/worker"
)

var logger *slog.Logger

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "FATAL: config:", err)
		os.Exit(1)
	}

	logger = obslog.New()

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("FATAL: failed to open database pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	box, err := cryptoutil.NewBox(cfg.EncryptionKeyB64)
	if err != nil {
		logger.Error("FATAL: failed to build mailbox credential box", slog.String("error", err.Error()))
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("FATAL: failed to load AWS config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	blobStore, err := newBlobStore(cfg, awsCfg)
	if err != nil {
		logger.Error("FATAL: failed to build blob store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Repositories. Every pipeline/worker dependency below is a thin
	// wrapper over the same pool; nothing here opens a second connection
	// source. cmd/adminctl wires the admin surface (organizations,
	// mailbox pause/resume, routing simulation) separately, since none
	// of it is driven by the job loop.
	occurrences := store.NewOccurrenceRepository(pool)
	canonical := store.NewCanonicalRepository(pool)
	attachments := store.NewAttachmentRepository(pool)
	tickets := store.NewTicketRepository(pool)
	collisions := store.NewCollisionRepository(pool)
	audit := store.NewAuditRepository(pool)
	routingRepo := store.NewRoutingRepository(pool)
	mailboxes := mailbox.NewRepository(pool)
	jobs := queue.NewStore(pool)

	factory := newProviderFactory()

	syncController := mailbox.NewController(mailboxes, jobs, box, factory, mailbox.Breaker{
		Threshold:   cfg.Breaker.Threshold,
		PauseWindow: cfg.Breaker.PauseWindow,
		Cadence:     cfg.SyncCadence,
	}, func(ctx context.Context, organizationID, mailboxID string, ref provider.MessageRef) error {
		// direction is set once here and is not revised by later stages;
		// "inbound" is the discovery-time default for the dominant case,
		// since a MessageRef carries no direction evidence.
		occ, created, err := occurrences.UpsertDiscovered(ctx, organizationID, mailboxID, ref.ProviderMessageID, ref.ProviderThreadID, "inbound")
		if err != nil {
			return fmt.Errorf("worker: upsert discovered occurrence: %w", err)
		}
		if !created {
			return nil
		}
		_, err = jobs.Enqueue(ctx, organizationID, queue.TypeOccurrenceFetch, pipeline.FetchPayload{OccurrenceID: occ.ID}, occ.ID)
		return err
	})

	stitcher := stitch.NewResolver(tickets, canonical, 0)
	routingEval := routing.NewEvaluator(routingRepo)

	handlers := pipeline.NewHandlers(
		occurrences, canonical, attachments, tickets, collisions, audit,
		mailboxes, box, factory, blobStore, jobs, stitcher, routingEval, logger,
	)

	host := worker.NewHost(jobs, syncController, handlers, worker.Config{
		Concurrency: worker.Concurrency{
			MailboxSync:      int64(cfg.Concurrency.Sync),
			OccurrenceFetch:  int64(cfg.Concurrency.Fetch),
			OccurrenceParse:  int64(cfg.Concurrency.Parse),
			OccurrenceStitch: int64(cfg.Concurrency.Stitch),
			TicketRouting:    int64(cfg.Concurrency.Route),
		},
		DrainGrace: cfg.ShutdownGrace,
	}, logger)

	logger.Info("worker host starting")
	if err := host.Run(ctx); err != nil {
		logger.Error("worker host exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker host stopped")
}

func newBlobStore(cfg *config.Config, awsCfg aws.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blob.NewS3Store(s3.NewFromConfig(awsCfg), cfg.BlobS3Bucket, cfg.BlobS3Prefix), nil
	default:
		return blob.NewFSStore(cfg.BlobFSRoot)
	}
}

// gmailCredential is the JSON shape a mailbox's decrypted credential blob
// takes for the gmail provider: a stored OAuth2 refresh token plus the
// client ID/secret needed to exchange it, mirroring the reference sync
// implementation's token persistence.
type gmailCredential struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// newProviderFactory builds the mailbox.ProviderFactory closure that
// bridges a mailbox's decrypted credential bytes into a concrete
// provider.Provider, dispatching on the mailbox's configured kind.
func newProviderFactory() mailbox.ProviderFactory {
	return func(ctx context.Context, m *mailbox.Mailbox, credential []byte) (provider.Provider, error) {
		switch m.Provider {
		case mailbox.ProviderFake:
			var profile provider.Profile
			if len(credential) > 0 {
				if err := json.Unmarshal(credential, &profile); err != nil {
					return nil, fmt.Errorf("worker: decode fake provider profile: %w", err)
				}
			}
			return provider.NewFakeProvider(profile), nil
		case mailbox.ProviderGmail:
			var cred gmailCredential
			if err := json.Unmarshal(credential, &cred); err != nil {
				return nil, fmt.Errorf("worker: decode gmail credential: %w", err)
			}
			conf := &oauth2.Config{
				ClientID:     cred.ClientID,
				ClientSecret: cred.ClientSecret,
				Endpoint:     google.Endpoint,
			}
			tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
			return provider.NewGmailProvider(ctx, tokenSource)
		default:
			return nil, fmt.Errorf("worker: unknown provider kind %q", m.Provider)
		}
	}
}

