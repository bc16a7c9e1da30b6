package worker

import "testing"

func TestNewHostFillsInDefaultConfig(t *testing.T) {
	h := NewHost(nil, nil, nil, Config{}, nil)
	if h.cfg.PollInterval != DefaultConfig().PollInterval {
		t.Fatalf("expected default poll interval, got %v", h.cfg.PollInterval)
	}
	if h.cfg.DrainGrace != DefaultConfig().DrainGrace {
		t.Fatalf("expected default drain grace, got %v", h.cfg.DrainGrace)
	}
	if h.cfg.Concurrency != DefaultConcurrency {
		t.Fatalf("expected default concurrency, got %+v", h.cfg.Concurrency)
	}
	if h.cfg.WorkerID == "" {
		t.Fatal("expected a generated worker id")
	}
}

func TestNewHostPreservesExplicitConfig(t *testing.T) {
	custom := Concurrency{MailboxSync: 1, OccurrenceFetch: 1, OccurrenceParse: 1, OccurrenceStitch: 1, TicketRouting: 1}
	h := NewHost(nil, nil, nil, Config{WorkerID: "fixed-id", Concurrency: custom}, nil)
	if h.cfg.WorkerID != "fixed-id" {
		t.Fatalf("expected explicit worker id preserved, got %q", h.cfg.WorkerID)
	}
	if h.cfg.Concurrency != custom {
		t.Fatalf("expected explicit concurrency preserved, got %+v", h.cfg.Concurrency)
	}
}

func TestLoopsCoverAllSixJobTypes(t *testing.T) {
	h := NewHost(nil, nil, nil, Config{}, nil)
	loops := h.loops()
	if len(loops) != 6 {
		t.Fatalf("expected 6 job-type loops, got %d", len(loops))
	}
	seen := make(map[string]bool)
	for _, l := range loops {
		seen[l.jobType] = true
	}
	for _, want := range []string{"mailbox_backfill", "mailbox_history_sync", "occurrence_fetch_raw", "occurrence_parse", "occurrence_stitch", "ticket_apply_routing"} {
		if !seen[want] {
			t.Fatalf("missing loop for job type %q", want)
		}
	}
}
