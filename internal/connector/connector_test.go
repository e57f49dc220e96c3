package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/BTreeMap/RunPipe/internal/rapidpro"
	"github.com/BTreeMap/RunPipe/internal/testutil"
	"github.com/BTreeMap/RunPipe/internal/wizard"
	"github.com/tidwall/sjson"
)

func newTestConnector(t *testing.T) (*RapidPro, *testutil.FakeRapidPro) {
	t.Helper()
	fake := testutil.NewFakeRapidPro(t)
	return NewRapidPro(rapidpro.NewClient()), fake
}

func runWithURN(t *testing.T, urn string) string {
	t.Helper()
	run, err := sjson.Set(testutil.SampleRun, "contact.urn", urn)
	if err != nil {
		t.Fatalf("sjson: %v", err)
	}
	return run
}

func dataRequest(cfg models.ConnectionConfig, ids ...string) models.DataRequest {
	req := models.DataRequest{Config: cfg}
	for _, id := range ids {
		req.Fields = append(req.Fields, models.RequestedField{Name: id})
	}
	return req
}

func TestAuthType(t *testing.T) {
	c := NewRapidPro(rapidpro.NewClient())
	if c.AuthType() != AuthTypeNone {
		t.Errorf("AuthType() = %q", c.AuthType())
	}
}

func TestConfigFlowSelectionCallsListerOnce(t *testing.T) {
	c, fake := newTestConnector(t)
	cfg := fake.Config()
	cfg.FlowUUID = ""

	form, err := c.Config(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if form.Step != wizard.StepFlowSelection || form.SteppedConfig {
		t.Errorf("unexpected form: step=%v stepped=%v", form.Step, form.SteppedConfig)
	}
	if n := fake.CountRequests("/api/v2/flows.json"); n != 1 {
		t.Errorf("expected one flows request, got %d", n)
	}
	last := form.Fields[len(form.Fields)-1]
	if len(last.Options) != 2 {
		t.Errorf("expected 2 active flows as options, got %+v", last.Options)
	}
}

func TestConfigEarlyStepsMakeNoRequests(t *testing.T) {
	c, fake := newTestConnector(t)
	form, err := c.Config(context.Background(), models.ConnectionConfig{BasePreset: models.BaseURLOther, CustomURL: fake.URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if form.Step != wizard.StepAPIToken || !form.SteppedConfig {
		t.Errorf("unexpected form: %+v", form)
	}
	if n := len(fake.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestConfigBadTokenIsUserError(t *testing.T) {
	c, fake := newTestConnector(t)
	cfg := fake.Config()
	cfg.APIToken = "wrong"

	_, err := c.Config(context.Background(), cfg)
	ue, ok := AsUserError(err)
	if !ok {
		t.Fatalf("expected UserError, got %v", err)
	}
	var apiErr *rapidpro.APIError
	if !errors.As(ue, &apiErr) {
		t.Error("expected the APIError to stay in the chain")
	}
}

func TestSchema(t *testing.T) {
	c, fake := newTestConnector(t)
	s, err := c.Schema(context.Background(), fake.Config())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Fields) != 12 {
		t.Errorf("expected 12 fields, got %d", len(s.Fields))
	}
	if s.Fields[8].ID != "age_value" || s.Fields[11].ID != "gender_category" {
		t.Errorf("unexpected dynamic fields: %v", s.IDs()[8:])
	}
}

func TestSchemaFlowWithoutResults(t *testing.T) {
	c, fake := newTestConnector(t)
	cfg := fake.Config()
	cfg.FlowUUID = testutil.OtherFlow

	s, err := c.Schema(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Fields) != 8 {
		t.Errorf("expected only fixed fields, got %v", s.IDs())
	}
}

func TestSchemaIncompleteConfig(t *testing.T) {
	c, fake := newTestConnector(t)
	cfg := fake.Config()
	cfg.FlowUUID = ""

	_, err := c.Schema(context.Background(), cfg)
	if _, ok := AsUserError(err); !ok || !errors.Is(err, models.ErrMissingFlowUUID) {
		t.Errorf("expected UserError wrapping ErrMissingFlowUUID, got %v", err)
	}
}

func TestDataAccumulatesPagesInOrder(t *testing.T) {
	c, fake := newTestConnector(t)
	fake.RunPages = [][]string{
		{runWithURN(t, "tel:1"), runWithURN(t, "tel:2")},
		{runWithURN(t, "tel:3")},
		{runWithURN(t, "tel:4"), runWithURN(t, "tel:5"), runWithURN(t, "tel:6")},
	}

	resp, err := c.Data(context.Background(), dataRequest(fake.Config(), "_contact_urn", "age_category"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Pages != 3 {
		t.Errorf("expected 3 pages, got %d", resp.Pages)
	}
	if len(resp.Rows) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(resp.Rows))
	}
	for i, row := range resp.Rows {
		want := "tel:" + string(rune('1'+i))
		if row.Values[0] != want || row.Values[1] != "20 - 30" {
			t.Errorf("row %d = %v", i, row.Values)
		}
	}
	testutil.AssertFieldIDs(t, resp.Schema, []string{"_contact_urn", "age_category"})
}

func TestDataFailureOnSecondPageReturnsNothing(t *testing.T) {
	c, fake := newTestConnector(t)
	fake.RunPages = [][]string{{testutil.SampleRun}, {testutil.SampleRun}, {testutil.SampleRun}}
	fake.FailPage = 2

	resp, err := c.Data(context.Background(), dataRequest(fake.Config(), "_contact_urn"))
	if err == nil {
		t.Fatal("expected error")
	}
	if resp != nil {
		t.Errorf("expected no partial result, got %+v", resp)
	}
	if _, ok := AsUserError(err); ok {
		t.Error("server errors should not be reported as user errors")
	}
}

func TestDataEmptyFlow(t *testing.T) {
	c, fake := newTestConnector(t)
	fake.RunPages = [][]string{{}}

	resp, err := c.Data(context.Background(), dataRequest(fake.Config(), "_contact_urn"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Rows == nil || len(resp.Rows) != 0 {
		t.Errorf("expected empty non-nil rows, got %#v", resp.Rows)
	}
}

func TestDataUnknownField(t *testing.T) {
	c, fake := newTestConnector(t)
	_, err := c.Data(context.Background(), dataRequest(fake.Config(), "_contact_urn", "favourite_colour_value"))
	if _, ok := AsUserError(err); !ok || !errors.Is(err, models.ErrUnknownField) {
		t.Errorf("expected UserError wrapping ErrUnknownField, got %v", err)
	}
	if n := fake.CountRequests("/api/v2/runs.json"); n != 0 {
		t.Errorf("expected no runs request, got %d", n)
	}
}

func TestDataNoFields(t *testing.T) {
	c, fake := newTestConnector(t)
	_, err := c.Data(context.Background(), dataRequest(fake.Config()))
	if _, ok := AsUserError(err); !ok {
		t.Errorf("expected UserError, got %v", err)
	}
}

func TestShowError(t *testing.T) {
	err := ShowError("Something the user can fix")
	ue, ok := AsUserError(err)
	if !ok || ue.Message != "Something the user can fix" || err.Error() != "Something the user can fix" {
		t.Errorf("unexpected error: %v", err)
	}
}
