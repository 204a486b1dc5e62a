package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(context.Background(), Notification{
		Title:   "Test",
		Message: "Test message",
		Type:    NotifyError,
		Host:    "seq-gw01",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got.Text != "Test" {
		t.Errorf("Text = %q, want Test", got.Text)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(got.Attachments))
	}
	if got.Attachments[0].Color != "danger" {
		t.Errorf("Color = %q, want danger", got.Attachments[0].Color)
	}
	if got.Attachments[0].Footer != "flowcell-ingest on seq-gw01" {
		t.Errorf("Footer = %q", got.Attachments[0].Footer)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Send(context.Background(), Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Send() error = %v, want status 403", err)
	}
}

func TestSlackNotifier_Disabled(t *testing.T) {
	if err := NewSlackNotifier("").Send(context.Background(), Notification{Title: "x"}); err != nil {
		t.Errorf("Send() with empty webhook = %v, want nil", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestFailureSummary(t *testing.T) {
	n := FailureSummary([]FolderFailure{
		{Path: "/runs/a", Err: errors.New("RunInfo.xml missing")},
		{Path: "/runs/b", Err: errors.New("layout unknown")},
	}, 5)

	if n.Title != "Flow cell ingest: 2 of 5 folders failed" {
		t.Errorf("Title = %q", n.Title)
	}
	if n.Message != "/runs/a: RunInfo.xml missing\n/runs/b: layout unknown" {
		t.Errorf("Message = %q", n.Message)
	}
	if n.Type != NotifyError {
		t.Errorf("Type = %v, want NotifyError", n.Type)
	}
}

func TestFailureSummary_Truncates(t *testing.T) {
	var failures []FolderFailure
	for i := 0; i < maxListedFailures+3; i++ {
		failures = append(failures, FolderFailure{Path: fmt.Sprintf("/runs/%d", i), Err: errors.New("boom")})
	}
	n := FailureSummary(failures, len(failures))
	if !strings.HasSuffix(n.Message, "... and 3 more") {
		t.Errorf("Message does not end with truncation marker: %q", n.Message)
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called, err: errors.New("unreachable")}

	multi := NewMultiNotifier(mock1, mock2)
	err := multi.Send(context.Background(), Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
	if err == nil {
		t.Error("Expected error from failing notifier")
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(ctx context.Context, n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}
