// Package main is the operator control CLI: a thin argv-dispatched
// wrapper around internal/admin's exported functions, in place of the
// HTTP API layer spec.md explicitly leaves out of scope. Every
// subcommand here is one admin.Surface call plus flag parsing and
// stdout formatting, except retention-sweep and reply, which call
// internal/retention and internal/outbound directly — no business logic
// lives in this package.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oss-support/journal-pipeline/internal/admin"
	"github.com/oss-support/journal-pipeline/internal/config"
	"github.com/oss-support/journal-pipeline/internal/mailbox"
	"github.com/oss-support/journal-pipeline/internal/obslog"
	"github.com/oss-support/journal-pipeline/internal/outbound"
	"github.com/oss-support/journal-pipeline/internal/queue"
	"github.com/oss-support/journal-pipeline/internal/retention"
	"github.com/oss-support/journal-pipeline/internal/routing"
	"github.com/oss-support/journal-pipeline/internal/store"
)

func main() {
	logger := obslog.New()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	subcommand, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "FATAL: config:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("FATAL: failed to open database pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	routingRepo := store.NewRoutingRepository(pool)
	surface := admin.NewSurface(
		queue.NewStore(pool),
		mailbox.NewRepository(pool),
		store.NewCollisionRepository(pool),
		store.NewCanonicalRepository(pool),
		routing.NewEvaluator(routingRepo),
		routingRepo,
	)

	if err := dispatch(ctx, surface, pool, cfg, subcommand, args); err != nil {
		logger.Error("command failed", slog.String("command", subcommand), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: adminctl <command> [flags]

commands:
  backfill       -org ID -mailbox ID
  history        -org ID -mailbox ID
  pause          -org ID -mailbox ID -minutes N [-reason TEXT]
  resume         -org ID -mailbox ID
  dead-jobs      -org ID [-limit N]
  replay         -job ID
  sync-summary   -org ID
  simulate       -org ID -recipient ADDR -sender ADDR -direction inbound|outbound
  backfill-collisions -org ID [-scan-limit N]
  collision-groups -org ID [-group ID]
  retention-sweep -org ID [-limit N] [-window-days N]
  reply          -org ID -ticket ID -to ADDR -subject TEXT -body TEXT -reply-domain DOMAIN`)
}

func dispatch(ctx context.Context, s *admin.Surface, pool *pgxpool.Pool, cfg *config.Config, subcommand string, args []string) error {
	switch subcommand {
	case "backfill":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org, mailboxID := fs.String("org", "", "organization id"), fs.String("mailbox", "", "mailbox id")
		fs.Parse(args)
		jobID, err := s.EnqueueBackfill(ctx, *org, *mailboxID)
		return printResult(jobID, err)

	case "history":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org, mailboxID := fs.String("org", "", "organization id"), fs.String("mailbox", "", "mailbox id")
		fs.Parse(args)
		jobID, err := s.EnqueueHistory(ctx, *org, *mailboxID)
		return printResult(jobID, err)

	case "pause":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org, mailboxID := fs.String("org", "", "organization id"), fs.String("mailbox", "", "mailbox id")
		minutes := fs.Int("minutes", 30, "pause duration in minutes")
		reason := fs.String("reason", "", "pause reason")
		fs.Parse(args)
		return s.Pause(ctx, *org, *mailboxID, *minutes, *reason)

	case "resume":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org, mailboxID := fs.String("org", "", "organization id"), fs.String("mailbox", "", "mailbox id")
		fs.Parse(args)
		return s.Resume(ctx, *org, *mailboxID)

	case "dead-jobs":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org := fs.String("org", "", "organization id")
		limit := fs.Int("limit", 50, "max jobs to list")
		fs.Parse(args)
		jobs, err := s.ListDeadJobs(ctx, *org, *limit)
		return printJSON(jobs, err)

	case "replay":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		jobID := fs.String("job", "", "job id")
		fs.Parse(args)
		return s.Replay(ctx, *jobID)

	case "sync-summary":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org := fs.String("org", "", "organization id")
		fs.Parse(args)
		summary, err := s.SyncSummary(ctx, *org)
		return printJSON(summary, err)

	case "simulate":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org := fs.String("org", "", "organization id")
		recipient := fs.String("recipient", "", "recipient address")
		sender := fs.String("sender", "", "sender address")
		direction := fs.String("direction", "inbound", "inbound or outbound")
		fs.Parse(args)
		result, err := s.SimulateRouting(ctx, *org, *recipient, *sender, *direction)
		return printJSON(result, err)

	case "backfill-collisions":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org := fs.String("org", "", "organization id")
		scanLimit := fs.Int("scan-limit", 500, "max ungrouped canonical messages to scan")
		fs.Parse(args)
		assigned, err := s.BackfillCollisions(ctx, *org, *scanLimit)
		return printResult(assigned, err)

	case "collision-groups":
		fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
		org := fs.String("org", "", "organization id")
		group := fs.String("group", "", "collision group id (omit to list all)")
		fs.Parse(args)
		if *group != "" {
			summary, err := s.GetCollisionGroup(ctx, *org, *group)
			return printJSON(summary, err)
		}
		summaries, err := s.ListCollisionGroups(ctx, *org)
		return printJSON(summaries, err)

	case "retention-sweep":
		return runRetentionSweep(ctx, pool, cfg, args)

	case "reply":
		return runReply(ctx, pool, cfg, args)

	default:
		usage()
		return fmt.Errorf("adminctl: unknown command %q", subcommand)
	}
}

// runReply publishes an outbound reply intent for an existing ticket,
// exercising the same SQS publisher the send path (out of scope for the
// core pipeline) would consume downstream.
func runReply(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("reply", flag.ExitOnError)
	org := fs.String("org", "", "organization id")
	ticketID := fs.String("ticket", "", "ticket id")
	to := fs.String("to", "", "recipient address")
	subject := fs.String("subject", "", "reply subject")
	body := fs.String("body", "", "reply body text")
	replyDomain := fs.String("reply-domain", "", "domain for the generated Reply-To address")
	fs.Parse(args)

	if cfg.OutboundQueueURL == "" {
		return fmt.Errorf("adminctl: reply: OUTBOUND_QUEUE_URL is not configured")
	}

	tickets := store.NewTicketRepository(pool)
	ticket, err := tickets.Get(ctx, *org, *ticketID)
	if err != nil {
		return fmt.Errorf("adminctl: reply: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("adminctl: reply: load aws config: %w", err)
	}
	pub := outbound.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.OutboundQueueURL)
	return pub.PublishReplyIntent(ctx, *org, ticket, *to, *subject, *body, *replyDomain)
}

// runRetentionSweep purges orphaned canonical messages (every occurrence
// pointing at them already dropped) past the retention window, publishing
// a delete intent per message before removing its rows.
func runRetentionSweep(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("retention-sweep", flag.ExitOnError)
	org := fs.String("org", "", "organization id")
	limit := fs.Int("limit", 500, "max orphan candidates to scan")
	windowDays := fs.Int("window-days", 0, "retention window in days (0 = use default)")
	fs.Parse(args)

	if cfg.RetentionQueueURL == "" {
		return fmt.Errorf("adminctl: retention-sweep: RETENTION_QUEUE_URL is not configured for delete-intent publishing")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("adminctl: retention-sweep: load aws config: %w", err)
	}
	pub := retention.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.RetentionQueueURL)
	sweeper := retention.NewSweeper(
		store.NewCanonicalRepository(pool),
		store.NewAttachmentRepository(pool),
		pub,
		time.Duration(*windowDays)*24*time.Hour,
	)
	purged, err := sweeper.Sweep(ctx, *org, *limit)
	return printResult(purged, err)
}

func printResult(v any, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func printJSON(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
