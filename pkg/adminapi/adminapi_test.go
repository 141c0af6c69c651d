package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/entropycollective/vaultd/pkg/common/logging"
)

type fakeCatalog struct {
	results []string
}

func (f *fakeCatalog) Search(query string, limit int) ([]string, error) {
	return f.results, nil
}

func newDiscardLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.ErrorLevel, Output: discardW{}})
}

type discardW struct{}

func (discardW) Write(p []byte) (int, error) { return len(p), nil }

func TestHealthzAlwaysOK(t *testing.T) {
	s := New("", nil, newDiscardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadyzReflectsCheck(t *testing.T) {
	failing := func(ctx context.Context) error { return errors.New("metadata store unreachable") }
	s := New("", failing, newDiscardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestAuditStreamRejectsMissingToken(t *testing.T) {
	s := New("secret-token", nil, newDiscardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/audit/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without a token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestAuditStreamBroadcastsToSubscriber(t *testing.T) {
	s := New("secret-token", nil, newDiscardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/audit/stream"
	header := http.Header{}
	header.Set("Authorization", "Bearer secret-token")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscriber before broadcasting.
	time.Sleep(50 * time.Millisecond)
	want := AuditEvent{Name: "hello.txt", TypeOfChanges: "modified", Status: "success", DateMillis: 1234}
	s.Broadcast(want)

	var got AuditEvent
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCatalogSearchWithoutIndexIsUnavailable(t *testing.T) {
	s := New("", nil, newDiscardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/catalog/search?q=report")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestCatalogSearchReturnsMatches(t *testing.T) {
	s := New("", nil, newDiscardLogger())
	s.SetCatalog(&fakeCatalog{results: []string{"report.pdf"}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/catalog/search?q=report")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "report.pdf" {
		t.Fatalf("got %v, want [report.pdf]", names)
	}
}

func TestCatalogSearchRequiresQuery(t *testing.T) {
	s := New("", nil, newDiscardLogger())
	s.SetCatalog(&fakeCatalog{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/catalog/search")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
