package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/RunPipe/internal/connector"
	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/BTreeMap/RunPipe/internal/store"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// methodNotAllowed answers 405 with the Allow header set.
func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
}

// decodeJSONBody decodes a size-limited JSON request body into v.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// connectorStatus maps a connector failure to an HTTP status and the message
// shown to the caller. Only user errors reveal their text.
func connectorStatus(err error) (int, string) {
	if ue, ok := connector.AsUserError(err); ok {
		return http.StatusBadRequest, ue.Message
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, "Request canceled"
	}
	return http.StatusBadGateway, "Upstream request failed"
}

// writeConnectorError logs err and writes the mapped error response.
func writeConnectorError(w http.ResponseWriter, handler string, err error) {
	status, msg := connectorStatus(err)
	if status == http.StatusBadRequest {
		slog.Warn("Server."+handler+": user error", "error", err)
	} else {
		slog.Error("Server."+handler+": connector failed", "error", err)
	}
	writeJSONResponse(w, status, models.Error(msg))
}

// writeStoreError writes 404 for unknown sources and 500 otherwise.
func writeStoreError(w http.ResponseWriter, handler string, err error) {
	if errors.Is(err, store.ErrSourceNotFound) {
		slog.Debug("Server."+handler+": source not found")
		writeJSONResponse(w, http.StatusNotFound, models.Error("Source not found"))
		return
	}
	slog.Error("Server."+handler+": store operation failed", "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Storage error"))
}
