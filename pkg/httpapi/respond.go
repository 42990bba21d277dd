package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// errorBody is the JSON envelope for every non-2xx response. Shape is
// intentionally small and stable since it is the one place client code
// needs to branch on.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps err to the single HTTP status translation point
// (pipelineerr.Kind.Status, §7) and writes the JSON error envelope. No
// handler in this package writes a status code for a domain error itself.
func writeError(w http.ResponseWriter, err error) {
	pe, ok := pipelineerr.As(err)
	if !ok {
		pe = pipelineerr.NewInternal("httpapi", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.Kind.Status())
	json.NewEncoder(w).Encode(errorBody{Error: pe.Error(), Kind: string(pe.Kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return pipelineerr.NewInvalidArgument("httpapi.decodeJSON", "invalid JSON body: %s", err.Error())
	}
	return nil
}
