package ragclient

import (
	"encoding/json"
	"fmt"
)

// QueryRequest is the JSON body POSTed to the backend. ScoreThreshold is
// always serialised, as null when unset.
type QueryRequest struct {
	Question       string   `json:"question"`
	Lang           string   `json:"lang"`
	NumResults     int      `json:"num_results"`
	ScoreThreshold *float64 `json:"score_threshold"`
}

func NewQueryRequest(question, langCode string, numResults int) QueryRequest {
	return QueryRequest{
		Question:   question,
		Lang:       langCode,
		NumResults: numResults,
	}
}

// QueryResponse keeps only the field the client reads.
type QueryResponse struct {
	Result json.RawMessage `json:"result"`
}

// ResultText returns the result field as text. JSON strings are unquoted,
// null is empty text and other values come back as their raw JSON.
func (r QueryResponse) ResultText() (string, bool) {
	if r.Result == nil {
		return "", false
	}
	if string(r.Result) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(r.Result, &s); err == nil {
		return s, true
	}
	return string(r.Result), true
}

// StatusError describes a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Kind       string
	Reason     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s for url: %s", e.StatusCode, e.Kind, e.Reason, e.URL)
}

// BackendError is every failure of a backend call. StatusCode is zero when
// no response was received.
type BackendError struct {
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	return e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
