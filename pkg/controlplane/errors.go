package controlplane

import (
	"encoding/json"
	"net/http"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
)

// StatusFor maps an error to the HTTP status the control plane answers
// with.
func StatusFor(err error) int {
	mcpErr, ok := mcperrors.AsMCPError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch {
	case mcperrors.IsInvalidConfig(err), mcperrors.IsInvalidParams(err):
		return http.StatusBadRequest
	case mcperrors.IsServerNotFound(err), mcperrors.IsUnknownTool(err):
		return http.StatusNotFound
	case mcperrors.IsServerNotConnected(err):
		return http.StatusConflict
	case mcperrors.IsRequestTimeout(err):
		return http.StatusGatewayTimeout
	case mcperrors.IsRegistryClosed(err):
		return http.StatusServiceUnavailable
	}
	switch mcpErr.Category() {
	case mcperrors.CategoryTransport, mcperrors.CategoryProtocol:
		return http.StatusBadGateway
	case mcperrors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case mcperrors.CategoryValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError answers with the error's JSON form. Errors outside the
// taxonomy are reported as internal errors without their text.
func writeError(w http.ResponseWriter, err error) {
	mcpErr, ok := mcperrors.AsMCPError(err)
	if !ok {
		mcpErr = mcperrors.NewError(mcperrors.CodeInternalError, "internal error",
			mcperrors.CategoryInternal, mcperrors.SeverityError)
	}
	writeJSON(w, StatusFor(err), map[string]interface{}{"error": mcpErr.ToJSON()})
}
