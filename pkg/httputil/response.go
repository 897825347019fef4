package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StandardError response
type StandardError struct {
	Message string `json:"message"`
}

// ResponseJSON response http request with application/json
func ResponseJSON(data interface{}, status int, writer http.ResponseWriter) (err error) {
	writer.Header().Set("Content-type", "application/json")
	writer.WriteHeader(status)

	d, err := json.Marshal(data)
	if err != nil {
		d, _ = json.Marshal(StandardError{Message: "ResponseJSON: Failed to response " + err.Error()})
		err = fmt.Errorf("ResponseJSON: Failed to response : %s", err)
	}

	writer.Write(d)
	return
}

// ResponseError response http request with standard error
func ResponseError(message string, status int, writer http.ResponseWriter) (err error) {
	return ResponseJSON(StandardError{Message: message}, status, writer)
}

// HTTPStatusError represents a 4xx or 5xx HTTP response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (err HTTPStatusError) Error() string {
	if err.URL == "" {
		return fmt.Sprintf("non-success status: %d", err.StatusCode)
	}
	return fmt.Sprintf("non-success status from %s: %d", err.URL, err.StatusCode)
}

// JSONBody returns the request body for payload. Strings, byte slices and
// json.RawMessage are taken as already encoded, anything else is marshalled.
func JSONBody(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	return json.Marshal(payload)
}
