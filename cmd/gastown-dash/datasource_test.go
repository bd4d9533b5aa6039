package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gastown/pkg/protocol"
)

// fakeAPI serves canned envelope responses keyed by path.
func fakeAPI(t *testing.T, responses map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"kind": "unauthorized", "message": "missing token"},
			})
			return
		}
		data, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"kind": "not_found", "message": r.URL.Path},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	}))
}

func TestDataSource_FetchRigs(t *testing.T) {
	srv := fakeAPI(t, map[string]any{
		"/api/towns/t-1/rigs": []protocol.Rig{
			{ID: "r-1", Name: "svc"},
			{ID: "r-2", Name: "web"},
		},
	})
	defer srv.Close()

	src := newDataSource(srv.URL, "tok", "t-1")
	rigs, err := src.fetchRigs(context.Background())
	if err != nil {
		t.Fatalf("fetchRigs: %v", err)
	}
	if len(rigs) != 2 || rigs[0].Name != "svc" {
		t.Fatalf("rigs = %+v", rigs)
	}
}

func TestDataSource_FetchFeedResolvesOwner(t *testing.T) {
	srv := fakeAPI(t, map[string]any{
		"/api/towns/t-1": protocol.Town{ID: "t-1", OwnerID: "user-1"},
		"/api/users/user-1/towns/t-1/events": feedPage{
			Events: []protocol.TaggedEvent{
				{BeadEvent: protocol.BeadEvent{ID: 1, Type: protocol.EventCreated}, RigName: "svc"},
			},
		},
	})
	defer srv.Close()

	src := newDataSource(srv.URL, "tok", "t-1")
	page, err := src.fetchFeed(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("fetchFeed: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].RigName != "svc" {
		t.Fatalf("page = %+v", page)
	}
	if src.ownerID != "user-1" {
		t.Fatalf("ownerID = %q, want cached user-1", src.ownerID)
	}
}

func TestDataSource_ErrorEnvelopeSurfaces(t *testing.T) {
	srv := fakeAPI(t, nil)
	defer srv.Close()

	src := newDataSource(srv.URL, "wrong", "t-1")
	_, err := src.fetchRigs(context.Background())
	if err == nil {
		t.Fatal("fetchRigs with bad token succeeded")
	}
	var we *protocol.WireError
	if !errors.As(err, &we) || we.ErrKind != "unauthorized" {
		t.Fatalf("err = %v, want unauthorized wire error", err)
	}
}
