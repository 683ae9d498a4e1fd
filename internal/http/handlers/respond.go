package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/stream"
)

// maxBodyBytes bounds request bodies; conversations with attached contexts
// can be large.
const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, stream.ErrorBody{Error: msg, Code: status})
}

// writeError maps err onto {error, code} with the taxonomy status.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	jsonError(w, apperr.PublicMessage(err), status)
}

// errorBody is the payload for errors reported after streaming started.
func errorBody(err error) stream.ErrorBody {
	return stream.ErrorBody{Error: apperr.PublicMessage(err), Code: apperr.HTTPStatus(err)}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperr.InvalidConversation("request body is not valid JSON")
	}
	return nil
}
