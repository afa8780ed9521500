package handlers

import (
	"encoding/json"
	"net/http"
)

// errorBody is the wire shape of every failure response. Stage is empty for
// errors outside the pipeline surface.
type errorBody struct {
	Error struct {
		Stage   string `json:"stage,omitempty"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, stage, code, message string) {
	var body errorBody
	body.Error.Stage = stage
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}
