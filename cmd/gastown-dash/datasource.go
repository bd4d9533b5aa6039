package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gastown/pkg/protocol"
)

// feedPage mirrors the town feed response.
type feedPage struct {
	Events      []protocol.TaggedEvent `json:"events"`
	Partial     bool                   `json:"partial"`
	OmittedRigs int                    `json:"omitted_rigs"`
}

// dataSource fetches dashboard data from the gastown API.
type dataSource struct {
	baseURL string
	token   string
	townID  string
	client  *http.Client

	ownerID string // cached after the first town lookup
}

func newDataSource(baseURL, token, townID string) *dataSource {
	return &dataSource{
		baseURL: baseURL,
		token:   token,
		townID:  townID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// get issues one authenticated GET and decodes the envelope data.
func (d *dataSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool                `json:"success"`
		Data    json.RawMessage     `json:"data"`
		Error   *protocol.WireError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response from %s (status %d): %w", path, resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(env.Data, out)
}

// fetchRigs lists the town's active rigs.
func (d *dataSource) fetchRigs(ctx context.Context) ([]protocol.Rig, error) {
	var rigs []protocol.Rig
	if err := d.get(ctx, "/api/towns/"+d.townID+"/rigs", &rigs); err != nil {
		return nil, err
	}
	return rigs, nil
}

// fetchFeed pulls the merged town feed after since. The feed route is
// keyed by the town owner, so the first call resolves and caches it.
func (d *dataSource) fetchFeed(ctx context.Context, since string, limit int) (*feedPage, error) {
	if d.ownerID == "" {
		var tn protocol.Town
		if err := d.get(ctx, "/api/towns/"+d.townID, &tn); err != nil {
			return nil, err
		}
		d.ownerID = tn.OwnerID
	}
	path := fmt.Sprintf("/api/users/%s/towns/%s/events?since=%s", d.ownerID, d.townID, since)
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}
	var page feedPage
	if err := d.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
