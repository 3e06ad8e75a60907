package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// OCSEnvelope is the response shape native clients expect from the
// createapptoken and discovery endpoints.
type OCSEnvelope struct {
	OCS OCSBody `json:"ocs"`
}

// OCSBody wraps the payload with response metadata.
type OCSBody struct {
	Meta OCSMeta     `json:"meta"`
	Data interface{} `json:"data"`
}

// OCSMeta mirrors the host platform's OCS status block.
type OCSMeta struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statuscode"`
	Message    string `json:"message"`
}

// WriteOCS writes data inside an OCS envelope with the given HTTP status.
func WriteOCS(w http.ResponseWriter, status int, data interface{}) error {
	meta := OCSMeta{Status: "ok", StatusCode: 200, Message: "OK"}
	if status >= 400 {
		meta = OCSMeta{Status: "failure", StatusCode: status, Message: http.StatusText(status)}
	}
	return WriteJSON(w, status, OCSEnvelope{OCS: OCSBody{Meta: meta, Data: data}})
}
