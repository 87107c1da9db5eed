// Package problem renders RFC 7807 error documents for the ops API.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ContentType = "application/problem+json"
	typeBase    = "https://errors.settlement.internal/"
	traceHeader = "X-Trace-ID"
)

// Details is the error body. TraceID matches the X-Trace-ID response header
// so an operator can find the request in the logs.
type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Type expands a slug such as "ledger/read-failed" into a problem type URI.
// Values that are already URIs are returned unchanged.
func Type(slug string) string {
	if slug == "" {
		return "about:blank"
	}
	if slug == "about:blank" || strings.Contains(slug, "://") {
		return slug
	}
	return typeBase + strings.TrimPrefix(slug, "/")
}

// Write sends a problem document. problemType may be a slug or a full URI.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, detail string) {
	d := Details{
		Type:   Type(problemType),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.TraceID = r.Header.Get(traceHeader)
	}
	if d.TraceID == "" {
		d.TraceID = w.Header().Get(traceHeader)
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
