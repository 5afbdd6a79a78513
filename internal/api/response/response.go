package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/registry"
)

const genericUpstreamMessage = "certificate processing failed, please try again later"

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// ListResponse wraps a page of results with offset pagination metadata.
type ListResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func WriteList(w http.ResponseWriter, items any, total, limit, offset int) {
	WriteJSON(w, http.StatusOK, ListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

// WriteDomainError maps err to a status code. Client errors carry their
// message; upstream and unclassified failures are logged with the request
// logger and answered with a generic message.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("request failed")
		WriteError(w, status, genericUpstreamMessage)
		return
	}
	WriteError(w, status, domainerr.Message(err, http.StatusText(status)))
}

// StatusFor returns the HTTP status for a classified error.
func StatusFor(err error) int {
	switch domainerr.CodeOf(err) {
	case domainerr.CodeValidation:
		return http.StatusBadRequest
	case domainerr.CodeNotFound:
		return http.StatusNotFound
	case domainerr.CodeConflict:
		if errors.Is(err, registry.ErrAlreadyRevoked) || errors.Is(err, registry.ErrNotRevoked) {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case domainerr.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
