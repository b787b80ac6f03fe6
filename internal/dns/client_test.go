package dns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
)

type fakeProvider struct {
	zones      map[string]string // name -> id
	records    map[string][]domain.DNSRecord
	zoneCalls  int
	nextRecord int
}

func (p *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, r *http.Request) {
		p.zoneCalls++
		name := r.URL.Query().Get("name")
		var result []map[string]string
		if id, ok := p.zones[name]; ok {
			result = append(result, map[string]string{"id": id, "name": name})
		}
		writeEnvelope(w, result)
	})
	mux.HandleFunc("GET /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		zone := r.PathValue("zone")
		name := r.URL.Query().Get("name")
		var result []domain.DNSRecord
		for _, rec := range p.records[zone] {
			if name != "" && rec.Name != name {
				continue
			}
			result = append(result, rec)
		}
		writeEnvelope(w, result)
	})
	mux.HandleFunc("POST /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		zone := r.PathValue("zone")
		var rec domain.DNSRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		p.nextRecord++
		rec.ID = fmt.Sprintf("rec-%d", p.nextRecord)
		p.records[zone] = append(p.records[zone], rec)
		writeEnvelope(w, rec)
	})
	mux.HandleFunc("PUT /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		zone, id := r.PathValue("zone"), r.PathValue("id")
		var rec domain.DNSRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		rec.ID = id
		for i, existing := range p.records[zone] {
			if existing.ID == id {
				p.records[zone][i] = rec
			}
		}
		writeEnvelope(w, rec)
	})
	mux.HandleFunc("DELETE /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		zone, id := r.PathValue("zone"), r.PathValue("id")
		records := p.records[zone]
		for i, existing := range records {
			if existing.ID == id {
				p.records[zone] = append(records[:i], records[i+1:]...)
				break
			}
		}
		writeEnvelope(w, nil)
	})
	return mux
}

func writeEnvelope(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "errors": []any{}, "result": result})
}

func newTestClient(t *testing.T) (*Client, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{
		zones:   map[string]string{"apps.example.dev": "zone-1"},
		records: map[string][]domain.DNSRecord{},
	}
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token"), provider
}

func TestZoneIDCachesLookups(t *testing.T) {
	client, provider := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := client.ZoneID(ctx, "apps.example.dev")
		if err != nil {
			t.Fatalf("ZoneID: %v", err)
		}
		if id != "zone-1" {
			t.Fatalf("got %q", id)
		}
	}
	if provider.zoneCalls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.zoneCalls)
	}
}

func TestZoneIDUnknownZone(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.ZoneID(context.Background(), "other.example.com")
	if !errors.Is(err, ErrZoneNotFound) {
		t.Fatalf("expected ErrZoneNotFound, got %v", err)
	}
}

func TestEnsureRecordCreatesThenUpdates(t *testing.T) {
	client, provider := newTestClient(t)
	ctx := context.Background()

	created, err := client.EnsureRecord(ctx, "zone-1", domain.DNSRecord{
		Type: "A", Name: "app1.apps.example.dev", Content: "10.0.0.1", TTL: 300,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected provider-assigned id")
	}

	updated, err := client.EnsureRecord(ctx, "zone-1", domain.DNSRecord{
		Type: "A", Name: "app1.apps.example.dev", Content: "10.0.0.2", TTL: 300,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("expected in-place update, got new id %q", updated.ID)
	}
	if len(provider.records["zone-1"]) != 1 {
		t.Fatalf("expected one record, got %d", len(provider.records["zone-1"]))
	}
	if provider.records["zone-1"][0].Content != "10.0.0.2" {
		t.Fatalf("expected updated content, got %q", provider.records["zone-1"][0].Content)
	}
}

func TestDeleteRecord(t *testing.T) {
	client, provider := newTestClient(t)
	ctx := context.Background()

	rec, err := client.EnsureRecord(ctx, "zone-1", domain.DNSRecord{
		Type: "A", Name: "app1.apps.example.dev", Content: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := client.DeleteRecord(ctx, "zone-1", rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(provider.records["zone-1"]) != 0 {
		t.Fatalf("expected no records, got %d", len(provider.records["zone-1"]))
	}
}
