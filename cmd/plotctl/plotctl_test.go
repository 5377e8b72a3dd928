package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
)

func TestExtractValue(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		path string
		want string
	}{
		{"simple string", map[string]any{"state": "SEMBRADO"}, "state", "SEMBRADO"},
		{"nested path", map[string]any{"plot": map[string]any{"id": "p1"}}, "plot.id", "p1"},
		{"missing key", map[string]any{"name": "Norte"}, "missing", ""},
		{"missing parent", map[string]any{"harvest": nil}, "harvest.id", ""},
		{"integer", map[string]any{"version": float64(3)}, "version", "3"},
		{"float", map[string]any{"yield": 4.125}, "yield", "4.13"},
		{"decimal string", map[string]any{"actualYield": "-88.89"}, "actualYield", "-88.89"},
		{"bool", map[string]any{"canRelease": false}, "canRelease", "false"},
		{"array", map[string]any{"allowedTransitions": []any{"SEMBRADO", "ABANDONADO"}}, "allowedTransitions", "SEMBRADO, ABANDONADO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractValue(tt.data, tt.path); got != tt.want {
				t.Errorf("extractValue(%v, %q) = %q, want %q", tt.data, tt.path, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s    string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"this is a long reason", 10, "this is..."},
		{"abcd", 3, "abc"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			if got := truncate(tt.s, tt.max); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.max, got, tt.want)
			}
		})
	}
}

func TestItemsOf(t *testing.T) {
	resp := map[string]any{"items": []any{map[string]any{"id": "a"}, "junk", map[string]any{"id": "b"}}, "size": float64(2)}
	if got := itemsOf(resp); len(got) != 2 {
		t.Errorf("itemsOf: got %d items, want 2", len(got))
	}
	if got := itemsOf(map[string]any{}); len(got) != 0 {
		t.Errorf("itemsOf on empty answer: got %d items", len(got))
	}
}

func TestAskConfirm(t *testing.T) {
	for in, want := range map[string]bool{"y\n": true, "si\n": true, "\n": false, "no\n": false, "": false} {
		if got := askConfirm(strings.NewReader(in), io.Discard); got != want {
			t.Errorf("askConfirm(%q) = %v, want %v", in, got, want)
		}
	}
}

// recorder is a fake plots server that remembers the requests it saw.
type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
}

func (rc *recorder) server(t *testing.T, status int, answer string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.requests = append(rc.requests, r)
		rc.bodies = append(rc.bodies, string(body))
		rc.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(answer))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func withGlobals(t *testing.T, url string) {
	t.Helper()
	old := []string{serverURL, company, user, token, outputFmt}
	oldGroups := groups
	serverURL, company, user, token, outputFmt = url, "acme", "ana", "", "json"
	groups = []string{"PRODUCTOR", "TECNICO"}
	t.Cleanup(func() {
		serverURL, company, user, token, outputFmt = old[0], old[1], old[2], old[3], old[4]
		groups = oldGroups
	})
}

func TestClient_Headers(t *testing.T) {
	rc := &recorder{}
	ts := rc.server(t, http.StatusOK, `{"items":[],"size":0}`)
	withGlobals(t, ts.URL)

	var resp map[string]any
	if err := newClient().get("/plots?state=SEMBRADO", &resp); err != nil {
		t.Fatalf("get: %v", err)
	}
	req := rc.requests[0]
	if req.URL.Path != apiPrefix+"/plots" || req.URL.Query().Get("state") != "SEMBRADO" {
		t.Errorf("unexpected URL %s", req.URL)
	}
	if got := req.Header.Get("X-Company-ID"); got != "acme" {
		t.Errorf("X-Company-ID = %q", got)
	}
	if got := req.Header.Values("X-Remote-Group"); len(got) != 2 {
		t.Errorf("X-Remote-Group = %v, want two roles", got)
	}
}

func TestClient_APIError(t *testing.T) {
	rc := &recorder{}
	ts := rc.server(t, http.StatusBadRequest, `{"error":"StaleProposal","message":"proposal is no longer valid"}`)
	withGlobals(t, ts.URL)

	_, err := confirmProposal("p1", "prop-1")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Kind != "StaleProposal" {
		t.Errorf("unexpected error %+v", apiErr)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(rc.bodies[0]), &body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if body["proposalId"] != "prop-1" {
		t.Errorf("confirm body = %v", body)
	}
}

func TestClient_PlainError(t *testing.T) {
	rc := &recorder{}
	ts := rc.server(t, http.StatusBadGateway, "upstream down")
	withGlobals(t, ts.URL)

	err := newClient().get("/plots", nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected a 502 error, got %v", err)
	}
}

func TestProposeTransition_UppercasesTarget(t *testing.T) {
	rc := &recorder{}
	ts := rc.server(t, http.StatusOK, `{"proposalId":"x","proposedState":"PREPARADO"}`)
	withGlobals(t, ts.URL)

	view, err := proposeTransition("p1", "preparado", "arado")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if extractValue(view, "proposalId") != "x" {
		t.Errorf("unexpected view %v", view)
	}
	if rc.requests[0].URL.Path != apiPrefix+"/plots/p1/state/propose" {
		t.Errorf("unexpected path %s", rc.requests[0].URL.Path)
	}
	if !strings.Contains(rc.bodies[0], `"targetState":"PREPARADO"`) {
		t.Errorf("unexpected body %s", rc.bodies[0])
	}
}

func TestHarvestFlags_RestDaysOnlyWhenSet(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want *int
	}{
		{"unset", []string{"--quantity", "4000"}, nil},
		{"zero", []string{"--quantity", "4000", "--rest-days", "0"}, new(int)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "record"}
			h := &harvestFlags{}
			h.register(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}
			got := h.payload(cmd).RestDays
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("RestDays = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHarvestCmd_QueryPaths(t *testing.T) {
	tests := []struct {
		args      []string
		wantPath  string
		wantQuery string
	}{
		{[]string{"recent"}, apiPrefix + "/harvests/recent", ""},
		{[]string{"recent", "--days", "60"}, apiPrefix + "/harvests/recent", "days=60"},
		{[]string{"get", "h1"}, apiPrefix + "/harvests/h1", ""},
		{[]string{"latest", "p1"}, apiPrefix + "/plots/p1/harvests/latest", ""},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			rc := &recorder{}
			ts := rc.server(t, http.StatusOK, `{"items":[],"size":0,"id":"h1"}`)
			withGlobals(t, ts.URL)

			cmd := newHarvestCmd()
			cmd.SetArgs(tt.args)
			if err := cmd.Execute(); err != nil {
				t.Fatalf("execute: %v", err)
			}
			req := rc.requests[0]
			if req.URL.Path != tt.wantPath || req.URL.RawQuery != tt.wantQuery {
				t.Errorf("requested %s, want %s?%s", req.URL, tt.wantPath, tt.wantQuery)
			}
		})
	}
}

func TestReportsCmd_YieldDiff(t *testing.T) {
	rc := &recorder{}
	ts := rc.server(t, http.StatusOK, `{"percentDifference":"10.33","exceedsExpectation":true,"meetsExpectation":true}`)
	withGlobals(t, ts.URL)

	cmd := newReportsCmd()
	cmd.SetArgs([]string{"yield-diff", "--projected", "45.5", "--actual", "50.2"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rc.requests[0].Method != http.MethodPost || rc.requests[0].URL.Path != apiPrefix+"/yield/difference" {
		t.Errorf("unexpected request %s %s", rc.requests[0].Method, rc.requests[0].URL.Path)
	}
	if !strings.Contains(rc.bodies[0], `"projected":"45.5"`) || !strings.Contains(rc.bodies[0], `"actual":"50.2"`) {
		t.Errorf("unexpected body %s", rc.bodies[0])
	}
}
