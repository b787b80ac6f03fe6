package ingress

import (
	"strings"
	"testing"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
)

func TestRenderActiveAndBackupUpstream(t *testing.T) {
	doc := RoutingDoc{
		Project:     "app1",
		Environment: domain.EnvProduction,
		Domains:     []string{"app1.apps.example.dev", "www.acme.com"},
		ActivePort:  4101,
		BackupPort:  4100,
		Version:     "abc1234",
		ActiveSlot:  domain.SlotGreen,
		HealthPath:  "/health",
	}
	body := Render(doc)

	if !strings.Contains(body, "upstream app1_production {") {
		t.Fatalf("missing upstream block:\n%s", body)
	}
	if !strings.Contains(body, "server 127.0.0.1:4101 max_fails=3 fail_timeout=5s;") {
		t.Fatalf("missing active server:\n%s", body)
	}
	if !strings.Contains(body, "server 127.0.0.1:4100 backup;") {
		t.Fatalf("missing backup server:\n%s", body)
	}
	if !strings.Contains(body, "server_name app1.apps.example.dev www.acme.com;") {
		t.Fatalf("missing server_name:\n%s", body)
	}
	if !strings.Contains(body, `add_header X-CodeB-Version "abc1234" always;`) {
		t.Fatalf("missing version header:\n%s", body)
	}
	if !strings.Contains(body, `add_header X-CodeB-Slot "green" always;`) {
		t.Fatalf("missing slot header:\n%s", body)
	}
	if strings.Contains(body, "Cache-Control") {
		t.Fatal("cache must stay enabled outside previews")
	}
}

func TestRenderPreviewDisablesCache(t *testing.T) {
	doc := RoutingDoc{
		File:         PreviewFileName("app1", "abc1234"),
		Project:      "app1",
		Domains:      []string{"app1-abc1234.preview.example.dev"},
		ActivePort:   4101,
		Version:      "abc1234",
		DisableCache: true,
	}
	body := Render(doc)

	if !strings.Contains(body, "upstream app1_preview_abc1234 {") {
		t.Fatalf("unexpected upstream name:\n%s", body)
	}
	if strings.Contains(body, "backup;") {
		t.Fatal("preview rules expose exactly one port")
	}
	if !strings.Contains(body, `add_header Cache-Control "no-store" always;`) {
		t.Fatalf("missing no-store header:\n%s", body)
	}
}

func TestFileNames(t *testing.T) {
	doc := RoutingDoc{Project: "app1", Environment: domain.EnvStaging}
	if got := FileName(doc); got != "app1-staging.conf" {
		t.Fatalf("FileName: got %q", got)
	}
	doc.File = "custom.conf"
	if got := FileName(doc); got != "custom.conf" {
		t.Fatalf("explicit file: got %q", got)
	}
	if got := PreviewFileName("app1", "abc1234"); got != "app1-preview-abc1234.conf" {
		t.Fatalf("PreviewFileName: got %q", got)
	}
}

func TestUpstreamNameSanitizesHostCharacters(t *testing.T) {
	doc := RoutingDoc{Project: "my-app.v2", Environment: domain.EnvProduction}
	if got := upstreamName(doc); got != "my_app_v2_production" {
		t.Fatalf("got %q", got)
	}
}
