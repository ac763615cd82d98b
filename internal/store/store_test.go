package store

import (
	"context"
	"testing"
	"time"
)

// newTestLog opens an in-memory query log.
func newTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory log: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := newTestLog(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	recs := []Record{
		{Question: "what are the types of agent memory", Route: "vectorstore", Hops: 4, Generation: "short-term and long-term", CreatedAt: base},
		{Question: "who won the match last night", Route: "websearch", Hops: 3, WebSearch: false, Generation: "the home team", CreatedAt: base.Add(time.Minute)},
		{Question: "what is prompt injection", Route: "vectorstore", Hops: 5, WebSearch: true, Generation: "an adversarial attack", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 records, got %d", len(got))
	}
	// Newest first.
	if got[0].Question != "what is prompt injection" {
		t.Errorf("want newest record first, got %q", got[0].Question)
	}
	if !got[0].WebSearch {
		t.Error("web_search flag lost on round trip")
	}
	if got[0].Hops != 5 {
		t.Errorf("hops lost on round trip: %d", got[0].Hops)
	}
	if got[1].Question != "who won the match last night" {
		t.Errorf("unexpected second record: %q", got[1].Question)
	}
}

func Test_Store_RecentFewerThanLimit(t *testing.T) {
	t.Parallel()
	s := newTestLog(t)
	ctx := context.Background()

	if err := s.Append(ctx, Record{Question: "q", Route: "vectorstore", Generation: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Recent(ctx, 50)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("want all 1 record, got %d", len(got))
	}
}

func Test_Store_EmptyLog(t *testing.T) {
	t.Parallel()
	s := newTestLog(t)

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent on empty log: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want no records, got %d", len(got))
	}
}

func Test_Store_RejectsUnknownRoute(t *testing.T) {
	t.Parallel()
	s := newTestLog(t)

	err := s.Append(context.Background(), Record{Question: "q", Route: "crystal_ball", Generation: "a"})
	if err == nil {
		t.Error("unknown route should violate the schema check")
	}
}

func Test_Store_AppendFillsTimestamp(t *testing.T) {
	t.Parallel()
	s := newTestLog(t)
	ctx := context.Background()

	if err := s.Append(ctx, Record{Question: "q", Route: "websearch", Generation: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("zero CreatedAt should be filled at append time")
	}
}
