package lookup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"callerbot/internal/detect"
	"callerbot/internal/domain"
	"callerbot/internal/extract"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const sampleResponse = `{"data":[{"id":"abc","name":"Jane Roe","score":0.9,"phones":[{"e164Format":"+919876543210","carrier":"Jio"}]}],"provider":"ss-nu"}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 5 * time.Second, Logger: testLogger()})
}

func query(raw string) domain.LookupQuery {
	return domain.LookupQuery{RawNumber: raw, Region: "IN", InstallationID: "iid-123"}
}

func TestLookup_Success(t *testing.T) {
	var gotQuery, gotCountry, gotAuth, gotEncoding string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotCountry = r.URL.Query().Get("countryCode")
		gotEncoding = r.URL.Query().Get("encoding")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResponse))
	})

	res := c.Lookup(context.Background(), query("+91 987 654 3210"))
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if gotQuery != "9876543210" {
		t.Errorf("expected national number 9876543210, got %q", gotQuery)
	}
	if gotCountry != "IN" {
		t.Errorf("expected countryCode IN, got %q", gotCountry)
	}
	if gotEncoding != "json" {
		t.Errorf("expected encoding json, got %q", gotEncoding)
	}
	if gotAuth != "Bearer iid-123" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if !strings.Contains(res.Markup, "<td>name</td><td>Jane Roe</td>") {
		t.Errorf("markup missing name row: %s", res.Markup)
	}
}

func TestLookup_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	res := c.Lookup(context.Background(), query("9876543210"))
	if !res.Failed() {
		t.Fatal("expected failure for 401")
	}
	var se *StatusError
	if !errors.As(res.Err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected StatusError 401, got %v", res.Err)
	}
}

func TestLookup_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json"))
	})

	if res := c.Lookup(context.Background(), query("9876543210")); !res.Failed() {
		t.Fatal("expected failure for malformed body")
	}
}

func TestLookup_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{Endpoint: endpoint, Timeout: time.Second, Logger: testLogger()})
	if res := c.Lookup(context.Background(), query("9876543210")); !res.Failed() {
		t.Fatal("expected failure when server is down")
	}
}

func TestLookup_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c.Lookup(context.Background(), query("9876543210"))
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 request, got %d", n)
	}
}

func TestLookup_RejectsBadInput(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	cases := []domain.LookupQuery{
		{RawNumber: "", Region: "IN", InstallationID: "iid"},
		{RawNumber: "9876543210", Region: "IN", InstallationID: ""},
		{RawNumber: "no digits here", Region: "IN", InstallationID: "iid"},
	}
	for _, q := range cases {
		if res := c.Lookup(context.Background(), q); !res.Failed() {
			t.Errorf("expected failure for %+v", q)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("no request should be issued for invalid input, got %d", n)
	}
}

func TestRenderHTML_KeepsOrderAndNests(t *testing.T) {
	out := RenderHTML(`{"b":1,"a":{"name":"X"},"list":["p","q"],"nil":null}`)
	want := `<table>` +
		`<tr><td>b</td><td>1</td></tr>` +
		`<tr><td>a</td><td><table><tr><td>name</td><td>X</td></tr></table></td></tr>` +
		`<tr><td>list</td><td><table><tr><td>0</td><td>p</td></tr><tr><td>1</td><td>q</td></tr></table></td></tr>` +
		`<tr><td>nil</td><td></td></tr>` +
		`</table>`
	if out != want {
		t.Fatalf("unexpected render:\n got: %s\nwant: %s", out, want)
	}
}

func TestRenderHTML_EscapesText(t *testing.T) {
	out := RenderHTML(`{"name":"<b>Tom & Jerry</b>"}`)
	if !strings.Contains(out, "&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;") {
		t.Fatalf("expected escaped value, got %s", out)
	}
}

func TestNormalize_MatchedNumberFromFreeText(t *testing.T) {
	for _, text := range []string{
		"call me at 9876543210 tonight",
		"who is 9876543210?",
		"9876543210 please",
		"+91 987 654 3210",
		"987\u00a0654\u00a03210",
	} {
		national, region, err := normalize(detect.Find(text), "IN")
		if err != nil {
			t.Fatalf("%q: unexpected error %v", text, err)
		}
		if national != "9876543210" || region != "IN" {
			t.Fatalf("%q: got (%q, %q)", text, national, region)
		}
	}
}

func TestRenderHTML_NameSurvivesLabelLikeValues(t *testing.T) {
	for _, doc := range []string{
		`{"data":[{"label":"name","name":"Bob"}]}`,
		`{"data":[{"tags":["name"],"name":"Bob"}]}`,
	} {
		name, ok := extract.Name(RenderHTML(doc))
		if !ok || name != "Bob" {
			t.Fatalf("%s: expected Bob, got %q ok=%v", doc, name, ok)
		}
	}
}
