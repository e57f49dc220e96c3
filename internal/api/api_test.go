package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RunPipe/internal/connector"
	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/BTreeMap/RunPipe/internal/rapidpro"
	"github.com/BTreeMap/RunPipe/internal/store"
	"github.com/BTreeMap/RunPipe/internal/testutil"
)

// newTestServer wires a server to a fake RapidPro and an in-memory store.
func newTestServer(t *testing.T) (*Server, *testutil.FakeRapidPro, *store.InMemoryStore) {
	t.Helper()
	fake := testutil.NewFakeRapidPro(t)
	st := store.NewInMemoryStore()
	conn := connector.NewRapidPro(rapidpro.NewClient(rapidpro.WithTimeout(5 * time.Second)))
	srv := NewServer(conn, st)
	srv.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return srv, fake, st
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestAuthTypeHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/auth-type", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /auth-type")
	resp := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	result, _ := resp["result"].(map[string]interface{})
	if result["type"] != "NONE" {
		t.Errorf("expected auth type NONE, got %v", result["type"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
		allow  string
	}{
		{http.MethodPost, "/auth-type", http.MethodGet},
		{http.MethodGet, "/config", http.MethodPost},
		{http.MethodGet, "/schema", http.MethodPost},
		{http.MethodGet, "/data", http.MethodPost},
		{http.MethodPut, "/sources", "GET, POST"},
		{http.MethodPost, "/sources/src_1", "GET, DELETE"},
		{http.MethodPost, "/sources/src_1/schema", http.MethodGet},
		{http.MethodGet, "/sources/src_1/pull", http.MethodPost},
		{http.MethodDelete, "/pulls", http.MethodGet},
		{http.MethodPost, "/health", http.MethodGet},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serve(srv, testutil.CreateHTTPRequest(t, tt.method, tt.path, nil))
			testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, tt.path)
			if got := rr.Header().Get("Allow"); got != tt.allow {
				t.Errorf("expected Allow %q, got %q", tt.allow, got)
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{"/config", "/schema", "/data", "/sources"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{not json"))
		rr := serve(srv, req)
		testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, path)
		testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
	}
}

func TestConfigHandler_Steps(t *testing.T) {
	srv, fake, _ := newTestServer(t)

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/config", map[string]interface{}{
		"config_params": map[string]string{},
	}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "empty config")
	resp := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	form := resp["result"].(map[string]interface{})
	if form["step"] != "base_url" {
		t.Errorf("expected base_url step, got %v", form["step"])
	}

	cfg := fake.Config()
	cfg.FlowUUID = ""
	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/config", map[string]interface{}{"config_params": cfg}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "account config")
	resp = testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	form = resp["result"].(map[string]interface{})
	if form["step"] != "flow_selection" {
		t.Errorf("expected flow_selection step, got %v", form["step"])
	}
	if n := fake.CountRequests("/api/v2/flows.json"); n != 1 {
		t.Errorf("expected 1 flows request, got %d", n)
	}
}

func TestConfigHandler_BadToken(t *testing.T) {
	srv, fake, _ := newTestServer(t)
	cfg := fake.Config()
	cfg.APIToken = "wrong"

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/config", map[string]interface{}{"config_params": cfg}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad token")
	resp := testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "API token") {
		t.Errorf("expected token message, got %q", msg)
	}
}

func TestSchemaAndDataHandlers(t *testing.T) {
	srv, fake, _ := newTestServer(t)

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/schema", map[string]interface{}{"config_params": fake.Config()}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "schema")
	var schemaResp struct {
		Result models.Schema `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &schemaResp)
	if len(schemaResp.Result.Fields) != 12 {
		t.Errorf("expected 12 fields, got %d", len(schemaResp.Result.Fields))
	}

	req := models.DataRequest{
		Config: fake.Config(),
		Fields: []models.RequestedField{{Name: "age_value"}, {Name: "_contact_name"}},
	}
	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/data", req))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "data")
	var dataResp struct {
		Result models.DataResponse `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &dataResp)
	testutil.AssertFieldIDs(t, dataResp.Result.Schema, []string{"age_value", "_contact_name"})
	if len(dataResp.Result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(dataResp.Result.Rows))
	}
	if got := dataResp.Result.Rows[0].Values[0]; got != "23" {
		t.Errorf("expected age 23, got %v", got)
	}
}

func TestDataHandler_Errors(t *testing.T) {
	srv, fake, _ := newTestServer(t)

	tests := []struct {
		name   string
		req    models.DataRequest
		fail   int
		status int
	}{
		{"no fields", models.DataRequest{Config: fake.Config()}, 0, http.StatusBadRequest},
		{"unknown field", models.DataRequest{Config: fake.Config(), Fields: []models.RequestedField{{Name: "nope_value"}}}, 0, http.StatusBadRequest},
		{"incomplete config", models.DataRequest{Fields: []models.RequestedField{{Name: "_contact_urn"}}}, 0, http.StatusBadRequest},
		{"upstream failure", models.DataRequest{Config: fake.Config(), Fields: []models.RequestedField{{Name: "_contact_urn"}}}, 1, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake.FailPage = tt.fail
			rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/data", tt.req))
			testutil.AssertHTTPStatus(t, tt.status, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
		})
	}
}

func TestSourceLifecycle(t *testing.T) {
	srv, fake, st := newTestServer(t)

	// Incomplete config is rejected.
	cfg := fake.Config()
	cfg.FlowUUID = ""
	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/sources", map[string]interface{}{"name": "Registrations", "config": cfg}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "incomplete source")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/sources", map[string]interface{}{"name": "Registrations", "config": fake.Config()}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create source")
	var created struct {
		Result models.Source `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &created)
	id := created.Result.ID
	if !strings.HasPrefix(id, "src_") {
		t.Fatalf("unexpected source id %q", id)
	}
	if created.Result.Config.APIToken == testutil.TestToken {
		t.Error("API token must not be returned")
	}
	stored, err := st.GetSource(id)
	if err != nil {
		t.Fatalf("source not stored: %v", err)
	}
	if stored.Config.APIToken != testutil.TestToken {
		t.Error("stored token must be the real one")
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/sources", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list sources")
	if strings.Contains(rr.Body.String(), testutil.TestToken) {
		t.Error("list response leaked the API token")
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/sources/"+id+"/schema", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "source schema")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/sources/"+id+"/pull", map[string]interface{}{
		"fields": []models.RequestedField{{Name: "_contact_urn"}, {Name: "gender_category"}},
	}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "pull")

	fake.FailPage = 1
	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/sources/"+id+"/pull", map[string]interface{}{
		"fields": []models.RequestedField{{Name: "_contact_urn"}},
	}))
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "failed pull")

	pulls, _ := st.GetPulls(id)
	if len(pulls) != 2 {
		t.Fatalf("expected 2 recorded pulls, got %d", len(pulls))
	}
	if pulls[0].Status != models.PullStatusOK || pulls[0].Rows != 1 || pulls[0].Pages != 1 {
		t.Errorf("unexpected first pull: %+v", pulls[0])
	}
	if len(pulls[0].Fields) != 2 || pulls[0].Fields[1] != "gender_category" {
		t.Errorf("unexpected pull fields: %v", pulls[0].Fields)
	}
	if pulls[1].Status != models.PullStatusFailed || pulls[1].Error == "" {
		t.Errorf("unexpected failed pull: %+v", pulls[1])
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/pulls?source_id="+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "pulls")
	var pullsResp struct {
		Result []models.Pull `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &pullsResp)
	if len(pullsResp.Result) != 2 {
		t.Errorf("expected 2 pulls in response, got %d", len(pullsResp.Result))
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodDelete, "/sources/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete source")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/sources/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "deleted source")
}

func TestSourceNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	tests := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, "/sources/src_missing", nil},
		{http.MethodDelete, "/sources/src_missing", nil},
		{http.MethodGet, "/sources/src_missing/schema", nil},
		{http.MethodPost, "/sources/src_missing/pull", map[string]interface{}{"fields": []models.RequestedField{{Name: "_contact_urn"}}}},
	}
	for _, tt := range tests {
		rr := serve(srv, testutil.CreateHTTPRequest(t, tt.method, tt.path, tt.body))
		testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, tt.method+" "+tt.path)
	}

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/sources/src_1/unknown", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown sub-resource")
}

func TestHealthHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
}

func TestConnectorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"user error", connector.ShowError("fix it"), http.StatusBadRequest},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"upstream", &rapidpro.APIError{StatusCode: 500}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got, _ := connectorStatus(tt.err); got != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.status, got)
		}
	}
}

func TestServerStartStopsOnCancel(t *testing.T) {
	srv := NewServer(nil, store.NewInMemoryStore(), WithAddr("127.0.0.1:0"), WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
