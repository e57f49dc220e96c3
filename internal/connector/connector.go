// Package connector defines the contract between RunPipe and a reporting host
// and implements it for RapidPro.
//
// A host drives a connector through four operations: it asks which built-in
// auth the connector needs, renders the setup form until it is complete,
// fetches the field catalog, and finally requests rows for a subset of
// fields. The connector keeps no state between calls.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/BTreeMap/RunPipe/internal/rapidpro"
	"github.com/BTreeMap/RunPipe/internal/schema"
	"github.com/BTreeMap/RunPipe/internal/wizard"
)

// AuthType is the built-in host authentication a connector asks for.
type AuthType string

// AuthTypeNone means the connector collects its own credentials.
const AuthTypeNone AuthType = "NONE"

// Connector is the host facing port.
type Connector interface {
	AuthType() AuthType
	Config(ctx context.Context, cfg models.ConnectionConfig) (*wizard.Form, error)
	Schema(ctx context.Context, cfg models.ConnectionConfig) (*models.Schema, error)
	Data(ctx context.Context, req models.DataRequest) (*models.DataResponse, error)
}

// Compile-time check that RapidPro implements Connector.
var _ Connector = (*RapidPro)(nil)

// RapidPro reads flow runs from a RapidPro installation.
type RapidPro struct {
	client *rapidpro.Client
}

// NewRapidPro creates a connector that issues its API calls through client.
func NewRapidPro(client *rapidpro.Client) *RapidPro {
	return &RapidPro{client: client}
}

// AuthType returns AuthTypeNone: API tokens are per account and a user may
// connect several accounts, so the token is collected by the setup form.
func (c *RapidPro) AuthType() AuthType {
	return AuthTypeNone
}

// Config renders the setup form for the answers collected so far.
func (c *RapidPro) Config(ctx context.Context, cfg models.ConnectionConfig) (*wizard.Form, error) {
	form, err := wizard.Build(ctx, cfg, c.client)
	if err != nil {
		slog.Error("RapidPro.Config: failed to build form", "error", err)
		return nil, userFacing(err)
	}
	return form, nil
}

// Schema samples the configured flow and returns its field catalog.
func (c *RapidPro) Schema(ctx context.Context, cfg models.ConnectionConfig) (*models.Schema, error) {
	flow, err := c.client.GetFlow(ctx, cfg)
	if err != nil {
		slog.Error("RapidPro.Schema: failed to sample flow", "flow_uuid", cfg.FlowUUID, "error", err)
		return nil, userFacing(err)
	}
	return schema.Build(flow), nil
}

// Data returns every run of the configured flow projected onto the requested
// fields. Either all pages are fetched and mapped or nothing is returned.
func (c *RapidPro) Data(ctx context.Context, req models.DataRequest) (*models.DataResponse, error) {
	ids := req.FieldIDs()
	if len(ids) == 0 {
		return nil, ShowError("At least one field must be requested")
	}
	sch, err := c.Schema(ctx, req.Config)
	if err != nil {
		return nil, err
	}
	fields, err := sch.ForIDs(ids)
	if err != nil {
		return nil, userFacing(err)
	}

	start := time.Now()
	rows := []models.Row{}
	pages, err := c.client.WalkRuns(ctx, req.Config, func(page *rapidpro.RunPage) error {
		rows = append(rows, schema.MapRows(fields, page.Results)...)
		return nil
	})
	if err != nil {
		slog.Error("RapidPro.Data: pull abandoned", "flow_uuid", req.Config.FlowUUID, "pages_fetched", pages, "error", err)
		return nil, userFacing(fmt.Errorf("failed to read runs: %w", err))
	}
	slog.Info("RapidPro.Data: pull complete", "flow_uuid", req.Config.FlowUUID, "fields", len(fields), "rows", len(rows), "pages", pages, "elapsed", time.Since(start))
	return &models.DataResponse{Schema: fields, Rows: rows, Pages: pages}, nil
}
