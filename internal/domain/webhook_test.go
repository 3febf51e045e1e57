package domain

import (
	"errors"
	"testing"
)

func TestParseWebhookPayloadValidates(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"missing project", `{"event":"code_updated","timestamp":"2024-01-01T00:00:00Z"}`, ErrWebhookProjectMissing},
		{"missing event", `{"projectId":"p1","timestamp":"2024-01-01T00:00:00Z"}`, ErrWebhookEventMissing},
		{"missing timestamp", `{"projectId":"p1","event":"code_updated"}`, ErrWebhookTimestampMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseWebhookPayload([]byte(tc.body)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := ParseWebhookPayload([]byte("{")); err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
}

func TestWebhookDecodeVariants(t *testing.T) {
	body := `{"projectId":"p1","event":"build_completed","timestamp":"2024-01-01T00:00:00Z","data":{"buildId":"b-9","success":false,"error":"tsc failed"}}`
	payload, err := ParseWebhookPayload([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	detail, err := payload.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	build, ok := detail.(BuildCompleted)
	if !ok {
		t.Fatalf("expected BuildCompleted, got %T", detail)
	}
	if build.BuildID != "b-9" || build.Success || build.Error != "tsc failed" {
		t.Fatalf("unexpected build detail: %+v", build)
	}

	payload.Event = "preview_created"
	detail, err = payload.Decode()
	if err != nil {
		t.Fatalf("decode unknown: %v", err)
	}
	if unknown, ok := detail.(UnknownEvent); !ok || unknown.Event != "preview_created" {
		t.Fatalf("expected UnknownEvent, got %#v", detail)
	}
}

func TestGitHubURLHelpers(t *testing.T) {
	if !IsGitHubURL("https://github.com/u/demo") {
		t.Fatal("expected github url to match")
	}
	if IsGitHubURL("https://gitlab.com/u/demo") {
		t.Fatal("expected gitlab url to be rejected")
	}
	name, ok := GitHubFullName("https://github.com/u/demo.git")
	if !ok || name != "u/demo" {
		t.Fatalf("unexpected full name %q (%v)", name, ok)
	}
}

func TestProjectSelectable(t *testing.T) {
	if (Project{Status: ProjectStatusConnected}).Selectable() {
		t.Fatal("project without remote id must not be selectable")
	}
	if !(Project{Status: ProjectStatusConnected, RemoteProjectID: "p1"}).Selectable() {
		t.Fatal("connected project with remote id should be selectable")
	}
	if (Project{Status: ProjectStatusPending, RemoteProjectID: "p1"}).Selectable() {
		t.Fatal("pending project must not be selectable")
	}
}
