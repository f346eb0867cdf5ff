package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func dialLogs(t *testing.T, srv *httptest.Server, service string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/control/logs/" + service
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	return websocket.DefaultDialer.Dial(url, header)
}

func TestLogStream_AllowListedService(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.journal.lines = []string{"2024-05-01T12:00:00+0000 host nginx[1]: started"}
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	conn, _, err := dialLogs(t, srv, "nginx")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(msg), "Connected to log stream for nginx") {
		t.Fatalf("unexpected greeting %q %v", msg, err)
	}
	_, msg, err = conn.ReadMessage()
	if err != nil || !strings.Contains(string(msg), "nginx[1]: started") {
		t.Fatalf("unexpected log line %q %v", msg, err)
	}
}

func TestLogStream_AliasResolves(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	conn, _, err := dialLogs(t, srv, "database")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.ReadMessage()
	conn.Close()

	ts.journal.mu.Lock()
	defer ts.journal.mu.Unlock()
	if len(ts.journal.units) != 1 || ts.journal.units[0] != "mysql" {
		t.Fatalf("expected the alias to resolve to mysql, got %v", ts.journal.units)
	}
}

func TestLogStream_RejectsUnknownService(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	_, resp, err := dialLogs(t, srv, "postgresql")
	if err == nil {
		t.Fatalf("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %v", http.StatusNotFound, resp)
	}
	if len(ts.journal.units) != 0 {
		t.Fatalf("journal must not be followed for unknown services")
	}
}
