package rig_test

import (
	"context"
	"testing"
	"time"

	"gastown/pkg/protocol"
)

func TestPrime_FirstCallSpawns(t *testing.T) {
	a := newTestActor(t)
	a.SetClock(tickingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Millisecond))
	ctx := context.Background()

	res, err := a.Prime(ctx, "a1")
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if res.Bead != nil || res.MailWaiting != 0 {
		t.Errorf("fresh prime = %+v", res)
	}
	if res.RigName != "svc" {
		t.Errorf("rig name = %q", res.RigName)
	}

	events, err := a.ListBeadEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != protocol.EventAgentSpawned {
		t.Fatalf("events after first prime = %+v", events)
	}

	// Second prime is read-mostly: no second spawn event.
	if _, err := a.Prime(ctx, "a1"); err != nil {
		t.Fatalf("second Prime: %v", err)
	}
	events, _ = a.ListBeadEvents(ctx, "", 0)
	if len(events) != 1 {
		t.Errorf("second prime appended an event: %d total", len(events))
	}
}

func TestPrime_ReportsAssignmentAndMail(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()

	b := mustCreateBead(t, a, "Fix bug")
	if _, err := a.HookBead(ctx, b.ID, "a1"); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if _, err := a.SendMail(ctx, "a2", "a1", "fyi", ""); err != nil {
		t.Fatalf("mail: %v", err)
	}

	res, err := a.Prime(ctx, "a1")
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if res.Bead == nil || res.Bead.ID != b.ID {
		t.Errorf("prime bead = %+v", res.Bead)
	}
	if res.MailWaiting != 1 {
		t.Errorf("mail waiting = %d", res.MailWaiting)
	}
}

func TestDone_ClosesAndRecordsExit(t *testing.T) {
	a := newTestActor(t)
	a.SetClock(tickingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Millisecond))
	ctx := context.Background()

	b := mustCreateBead(t, a, "Fix bug")
	if _, err := a.HookBead(ctx, b.ID, "a1"); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if err := a.Done(ctx, "a1", b.ID, "all green"); err != nil {
		t.Fatalf("Done: %v", err)
	}

	got, err := a.GetBead(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBead: %v", err)
	}
	if got.Status != protocol.BeadClosed {
		t.Errorf("bead status = %s", got.Status)
	}

	events, _ := a.ListBeadEvents(ctx, "", 0)
	last := events[len(events)-1]
	if last.Type != protocol.EventAgentExited {
		t.Errorf("last event = %s", last.Type)
	}
	if last.Metadata["summary"] != "all green" {
		t.Errorf("exit metadata = %v", last.Metadata)
	}
	// atomic pair: closed then agent_exited
	if events[len(events)-2].Type != protocol.EventClosed {
		t.Errorf("penultimate event = %s", events[len(events)-2].Type)
	}
}

func TestDone_AlreadyClosedBeadTolerated(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()

	b := mustCreateBead(t, a, "Fix bug")
	if _, err := a.CloseBead(ctx, b.ID, "a1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Done(ctx, "a1", b.ID, ""); err != nil {
		t.Fatalf("Done on closed bead: %v", err)
	}
}

func TestWriteCheckpoint_PersistsWithoutEvent(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()
	b := mustCreateBead(t, a, "Fix bug")

	cp, err := a.WriteCheckpoint(ctx, "a1", b.ID, "parser rewritten, tests next")
	if err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	if cp.ID == "" || cp.CreatedAt == "" {
		t.Errorf("checkpoint = %+v", cp)
	}

	list, err := a.ListCheckpoints(ctx, "a1", 0)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(list) != 1 || list[0].Note != "parser rewritten, tests next" {
		t.Errorf("checkpoints = %+v", list)
	}

	events, _ := a.ListBeadEvents(ctx, "", 0)
	for _, e := range events {
		if e.Type != protocol.EventCreated {
			t.Errorf("checkpoint appended an event: %s", e.Type)
		}
	}
}

func TestWriteCheckpoint_UnknownBead(t *testing.T) {
	a := newTestActor(t)
	_, err := a.WriteCheckpoint(context.Background(), "a1", "nope", "note")
	if protocol.Kind(err) != protocol.KindNotFound {
		t.Fatalf("got %v, want NotFound", err)
	}
}
