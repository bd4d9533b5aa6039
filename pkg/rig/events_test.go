package rig_test

import (
	"context"
	"testing"
	"time"

	"gastown/pkg/protocol"
)

// End-to-end scenario: create -> hook -> close yields exactly
// [created, hooked, closed] in order.
func TestListBeadEvents_LifecycleOrder(t *testing.T) {
	a := newTestActor(t)
	a.SetClock(tickingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Millisecond))
	ctx := context.Background()

	b := mustCreateBead(t, a, "Fix bug")
	if _, err := a.HookBead(ctx, b.ID, "a1"); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if _, err := a.CloseBead(ctx, b.ID, "a1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, err := a.ListBeadEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListBeadEvents: %v", err)
	}
	want := []protocol.EventType{protocol.EventCreated, protocol.EventHooked, protocol.EventClosed}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("event %d = %s, want %s", i, events[i].Type, typ)
		}
	}
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt < events[i-1].CreatedAt {
			t.Errorf("events out of order at %d: %s < %s", i, events[i].CreatedAt, events[i-1].CreatedAt)
		}
	}
	if events[1].Metadata["assignee"] != "a1" {
		t.Errorf("hooked metadata = %v", events[1].Metadata)
	}
	if events[0].OldValue != "" || events[0].NewValue != string(protocol.BeadOpen) {
		t.Errorf("created old/new = %q/%q", events[0].OldValue, events[0].NewValue)
	}
}

func TestListBeadEvents_SinceIsExclusive(t *testing.T) {
	a := newTestActor(t)
	a.SetClock(tickingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Second))
	ctx := context.Background()

	mustCreateBead(t, a, "one")
	mustCreateBead(t, a, "two")
	mustCreateBead(t, a, "three")

	all, err := a.ListBeadEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListBeadEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events", len(all))
	}

	rest, err := a.ListBeadEvents(ctx, all[0].CreatedAt, 0)
	if err != nil {
		t.Fatalf("ListBeadEvents since: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("since first: got %d events, want 2", len(rest))
	}
	if rest[0].ID != all[1].ID {
		t.Errorf("since skipped wrong rows: %d vs %d", rest[0].ID, all[1].ID)
	}
}

// Repeated reads with increasing since see stable, non-overlapping
// suffixes of the append-only log.
func TestListBeadEvents_StablePrefix(t *testing.T) {
	a := newTestActor(t)
	a.SetClock(tickingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Second))
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c", "d"} {
		mustCreateBead(t, a, title)
	}
	first, err := a.ListBeadEvents(ctx, "", 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("page 1 len = %d", len(first))
	}
	second, err := a.ListBeadEvents(ctx, first[len(first)-1].CreatedAt, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("page 2 len = %d", len(second))
	}
	if second[0].ID <= first[1].ID {
		t.Errorf("pages overlap: %d vs %d", second[0].ID, first[1].ID)
	}
}

func TestListBeadEvents_LimitClamped(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()
	mustCreateBead(t, a, "x")

	// Absurd limits are clamped rather than rejected.
	if _, err := a.ListBeadEvents(ctx, "", 1<<30); err != nil {
		t.Fatalf("huge limit: %v", err)
	}
	if _, err := a.ListBeadEvents(ctx, "", -5); err != nil {
		t.Fatalf("negative limit: %v", err)
	}
}

func TestEvents_EveryMutationAppendsOne(t *testing.T) {
	a := newTestActor(t)
	a.SetClock(tickingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Millisecond))
	ctx := context.Background()

	b := mustCreateBead(t, a, "Fix bug")                                                          // created
	if _, err := a.HookBead(ctx, b.ID, "a1"); err != nil {                                        // hooked
		t.Fatal(err)
	}
	if _, err := a.UnhookBead(ctx, b.ID); err != nil {                                            // unhooked
		t.Fatal(err)
	}
	if _, err := a.SendMail(ctx, "a1", "a2", "hi", ""); err != nil {                              // mail_sent
		t.Fatal(err)
	}
	if _, err := a.CreateEscalation(ctx, protocol.SeverityLow, "stuck", "m", "a1"); err != nil { // escalated
		t.Fatal(err)
	}
	entry, err := a.SubmitReview(ctx, "a1", b.ID, "agent/x", "", "") // review_submitted
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.AdvanceReview(ctx, entry.ID, protocol.ReviewRunning); err != nil { // review_completed
		t.Fatal(err)
	}

	events, err := a.ListBeadEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListBeadEvents: %v", err)
	}
	want := []protocol.EventType{
		protocol.EventCreated,
		protocol.EventHooked,
		protocol.EventUnhooked,
		protocol.EventMailSent,
		protocol.EventEscalated,
		protocol.EventReviewSubmitted,
		protocol.EventReviewCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("event %d = %s, want %s", i, events[i].Type, typ)
		}
	}
}

// A failed mutation must not leave an event behind.
func TestEvents_NoEventOnFailedMutation(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()
	b := mustCreateBead(t, a, "Fix bug")

	if _, err := a.UnhookBead(ctx, b.ID); err == nil {
		t.Fatal("expected unhook of open bead to fail")
	}
	events, err := a.ListBeadEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListBeadEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the created event", len(events))
	}
}
