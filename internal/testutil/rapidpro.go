package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// Fixture values served by FakeRapidPro.
const (
	TestToken    = "0123456789abcdef"
	TestFlowUUID = "f1b9a3a6-0a3c-4c0e-9f6e-3b5f3b1a2c11"
	OtherFlow    = "a7c33c9e-52b7-4a4e-8f5e-0d8d3f2f8b00"
)

// SampleRun is a run of the test flow with two results.
const SampleRun = `{
	"id": 4092,
	"flow": {"uuid": "f1b9a3a6-0a3c-4c0e-9f6e-3b5f3b1a2c11", "name": "Registration"},
	"contact": {"uuid": "d33e9ad5-5c35-414c-abd4-e7451c69ff1d", "urn": "tel:+250788123123", "name": "Bob McFlow"},
	"start": null,
	"responded": true,
	"path": [],
	"values": {
		"age": {"value": "23", "category": "20 - 30", "node": "a1", "time": "2020-03-05T01:02:03.000Z"},
		"gender": {"value": "f", "category": "Female", "node": "a2", "time": "2020-03-05T01:03:00.000Z"}
	},
	"created_on": "2020-03-05T01:00:00.000Z",
	"modified_on": "2020-03-05T02:30:00.000000+00:00",
	"exited_on": null,
	"exit_type": null
}`

// TestFlows returns the flows served by a new FakeRapidPro.
func TestFlows() []models.Flow {
	return []models.Flow{
		{
			UUID: TestFlowUUID,
			Name: "Registration",
			Results: []models.FlowResult{
				{Key: "age", Name: "Age", Categories: []string{"20 - 30", "Other"}},
				{Key: "gender", Name: "Gender", Categories: []string{"Male", "Female"}},
			},
		},
		{UUID: OtherFlow, Name: "Survey"},
		{UUID: "0c6a3e2b-93a2-4b4a-9d2b-6a3c3b0f6c42", Name: "Old Flow", Archived: true},
	}
}

// FakeRapidPro serves flows.json and runs.json the way RapidPro does.
// Set its exported fields before issuing requests.
type FakeRapidPro struct {
	Server *httptest.Server
	Token  string
	Flows  []models.Flow
	// RunPages holds the raw run objects of each runs.json page, in order.
	RunPages [][]string
	// FailPage makes the given 1-based runs page answer 500. Zero disables it.
	FailPage int

	mu       sync.Mutex
	requests []string
}

// NewFakeRapidPro starts a fake API serving TestFlows and one page holding SampleRun.
// The server is closed when the test ends.
func NewFakeRapidPro(t testing.TB) *FakeRapidPro {
	t.Helper()
	f := &FakeRapidPro{
		Token:    TestToken,
		Flows:    TestFlows(),
		RunPages: [][]string{{SampleRun}},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake.
func (f *FakeRapidPro) URL() string {
	return f.Server.URL
}

// Config returns a complete connection config pointing at the fake.
func (f *FakeRapidPro) Config() models.ConnectionConfig {
	return models.ConnectionConfig{
		BasePreset: models.BaseURLOther,
		CustomURL:  f.Server.URL,
		APIToken:   f.Token,
		FlowUUID:   TestFlowUUID,
	}
}

// Requests returns the request URIs received so far.
func (f *FakeRapidPro) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// CountRequests returns how many requests hit path.
func (f *FakeRapidPro) CountRequests(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if len(r) >= len(path) && r[:len(path)] == path {
			n++
		}
	}
	return n
}

func (f *FakeRapidPro) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.RequestURI())
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Token "+f.Token {
		writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token."})
		return
	}

	switch r.URL.Path {
	case "/api/v2/flows.json":
		f.serveFlows(w, r)
	case "/api/v2/runs.json":
		f.serveRuns(w, r)
	default:
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	}
}

func (f *FakeRapidPro) serveFlows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results := []models.Flow{}
	for _, flow := range f.Flows {
		if uuid := q.Get("uuid"); uuid != "" && flow.UUID != uuid {
			continue
		}
		if q.Get("archived") == "false" && flow.Archived {
			continue
		}
		results = append(results, flow)
	}
	writeFakeJSON(w, http.StatusOK, map[string]interface{}{"next": nil, "previous": nil, "results": results})
}

func (f *FakeRapidPro) serveRuns(w http.ResponseWriter, r *http.Request) {
	page := 1
	if c := r.URL.Query().Get("cursor"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > len(f.RunPages) {
			writeFakeJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid cursor"})
			return
		}
		page = n
	}
	if page == f.FailPage {
		writeFakeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Server Error"})
		return
	}

	results := []json.RawMessage{}
	if page <= len(f.RunPages) {
		for _, run := range f.RunPages[page-1] {
			results = append(results, json.RawMessage(run))
		}
	}
	var next interface{}
	if page < len(f.RunPages) {
		next = fmt.Sprintf("%s/api/v2/runs.json?flow=%s&cursor=%d", f.Server.URL, r.URL.Query().Get("flow"), page+1)
	}
	writeFakeJSON(w, http.StatusOK, map[string]interface{}{"next": next, "previous": nil, "results": results})
}

func writeFakeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
