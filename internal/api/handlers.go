package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/BTreeMap/RunPipe/internal/util"
)

// configRequest carries the answers collected by the host so far.
type configRequest struct {
	Config models.ConnectionConfig `json:"config_params"`
}

// createSourceRequest is the body of POST /sources.
type createSourceRequest struct {
	Name   string                  `json:"name"`
	Config models.ConnectionConfig `json:"config"`
}

// pullRequest is the body of POST /sources/{id}/pull.
type pullRequest struct {
	Fields []models.RequestedField `json:"fields"`
}

// authTypeHandler handles GET /auth-type.
func (s *Server) authTypeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"type": string(s.conn.AuthType())}))
}

// configHandler handles POST /config and returns the setup form.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.configHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req configRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.configHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	form, err := s.conn.Config(r.Context(), req.Config)
	if err != nil {
		writeConnectorError(w, "configHandler", err)
		return
	}
	slog.Debug("Server.configHandler: form built", "step", form.Step, "fields", len(form.Fields))
	writeJSONResponse(w, http.StatusOK, models.Success(form))
}

// schemaHandler handles POST /schema.
func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.schemaHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req configRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.schemaHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sch, err := s.conn.Schema(r.Context(), req.Config)
	if err != nil {
		writeConnectorError(w, "schemaHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sch))
}

// dataHandler handles POST /data.
func (s *Server) dataHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.dataHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.DataRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.dataHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	resp, err := s.conn.Data(r.Context(), req)
	if err != nil {
		writeConnectorError(w, "dataHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// sourcesHandler routes /sources and /sources/{id}[/schema|/pull].
func (s *Server) sourcesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sourcesHandler: processing request", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/sources")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			s.listSourcesHandler(w, r)
		case http.MethodPost:
			s.createSourceHandler(w, r)
		default:
			methodNotAllowed(w, "GET, POST")
		}
		return
	}

	segments := strings.Split(path, "/")
	sourceID := segments[0]

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.getSourceHandler(w, r, sourceID)
		case http.MethodDelete:
			s.deleteSourceHandler(w, r, sourceID)
		default:
			methodNotAllowed(w, "GET, DELETE")
		}
		return
	}

	if len(segments) == 2 {
		switch segments[1] {
		case "schema":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			s.sourceSchemaHandler(w, r, sourceID)
			return
		case "pull":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			s.pullSourceHandler(w, r, sourceID)
			return
		}
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown source endpoint"))
}

func (s *Server) listSourcesHandler(w http.ResponseWriter, r *http.Request) {
	sources, err := s.st.ListSources()
	if err != nil {
		writeStoreError(w, "listSourcesHandler", err)
		return
	}
	for i := range sources {
		sources[i].Config = sources[i].Config.Redacted()
	}
	slog.Debug("Server.listSourcesHandler: sources fetched", "count", len(sources))
	writeJSONResponse(w, http.StatusOK, models.Success(sources))
}

func (s *Server) createSourceHandler(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.createSourceHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	now := s.now()
	src := models.Source{
		ID:        util.GenerateSourceID(),
		Name:      strings.TrimSpace(req.Name),
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := src.Validate(); err != nil {
		slog.Warn("Server.createSourceHandler: validation failed", "error", err, "base_url", req.Config.BasePreset, "api_token_set", req.Config.APIToken != "")
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveSource(src); err != nil {
		writeStoreError(w, "createSourceHandler", err)
		return
	}

	slog.Info("Server.createSourceHandler: source created", "id", src.ID, "flow_uuid", src.Config.FlowUUID)
	src.Config = src.Config.Redacted()
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Source created", src))
}

func (s *Server) getSourceHandler(w http.ResponseWriter, r *http.Request, id string) {
	src, err := s.st.GetSource(id)
	if err != nil {
		writeStoreError(w, "getSourceHandler", err)
		return
	}
	src.Config = src.Config.Redacted()
	writeJSONResponse(w, http.StatusOK, models.Success(src))
}

func (s *Server) deleteSourceHandler(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.st.DeleteSource(id); err != nil {
		writeStoreError(w, "deleteSourceHandler", err)
		return
	}
	slog.Info("Server.deleteSourceHandler: source deleted", "id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Source deleted", nil))
}

func (s *Server) sourceSchemaHandler(w http.ResponseWriter, r *http.Request, id string) {
	src, err := s.st.GetSource(id)
	if err != nil {
		writeStoreError(w, "sourceSchemaHandler", err)
		return
	}
	sch, err := s.conn.Schema(r.Context(), src.Config)
	if err != nil {
		writeConnectorError(w, "sourceSchemaHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sch))
}

// pullSourceHandler runs a data request against a stored source and records
// the outcome in the pull log, whether it succeeded or not.
func (s *Server) pullSourceHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req pullRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.pullSourceHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	src, err := s.st.GetSource(id)
	if err != nil {
		writeStoreError(w, "pullSourceHandler", err)
		return
	}

	dataReq := models.DataRequest{Config: src.Config, Fields: req.Fields}
	pull := models.Pull{
		ID:        util.GeneratePullID(),
		SourceID:  src.ID,
		Fields:    dataReq.FieldIDs(),
		StartedAt: s.now(),
	}

	resp, dataErr := s.conn.Data(r.Context(), dataReq)
	pull.FinishedAt = s.now()
	if dataErr != nil {
		pull.Status = models.PullStatusFailed
		_, pull.Error = connectorStatus(dataErr)
	} else {
		pull.Status = models.PullStatusOK
		pull.Rows = len(resp.Rows)
		pull.Pages = resp.Pages
	}
	if err := s.st.AddPull(pull); err != nil {
		// The data is still returned; only the log entry is lost.
		slog.Error("Server.pullSourceHandler: failed to record pull", "error", err, "source_id", src.ID)
	}

	if dataErr != nil {
		writeConnectorError(w, "pullSourceHandler", dataErr)
		return
	}
	slog.Info("Server.pullSourceHandler: pull recorded", "id", pull.ID, "source_id", src.ID, "rows", pull.Rows, "pages", pull.Pages)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// pullsHandler handles GET /pulls with an optional source_id filter.
func (s *Server) pullsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	sourceID := r.URL.Query().Get("source_id")
	pulls, err := s.st.GetPulls(sourceID)
	if err != nil {
		writeStoreError(w, "pullsHandler", err)
		return
	}
	slog.Debug("Server.pullsHandler: pulls fetched", "source_id", sourceID, "count", len(pulls))
	writeJSONResponse(w, http.StatusOK, models.Success(pulls))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if err := s.st.Ping(); err != nil {
		slog.Error("Server.healthHandler: store unreachable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Store unreachable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"store": "ok"}))
}
