package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cgast/schemaprobe/pkg/backend"
)

// apiError is the JSON error body returned by the REST layer.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Error codes that classify a failed read.
var (
	notFoundCodes = map[string]bool{
		"42P01":    true, // undefined_table
		"PGRST205": true, // table not in schema cache
	}
	// A rejected key (PGRST301, or a bare 401 from the gateway) says nothing
	// about the entity's policy and stays unclassified.
	deniedCodes = map[string]bool{
		"42501":    true, // insufficient_privilege
		"PGRST302": true, // anonymous access disabled
	}
)

// StatusError is an unclassified HTTP failure.
type StatusError struct {
	Status int
	Code   string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rest: unexpected status %d (code %s): %s", e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("rest: unexpected status %d: %s", e.Status, e.Body)
}

// decodeError classifies a non-2xx response by status and error code.
func decodeError(resp *http.Response, entity string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var ae apiError
	_ = json.Unmarshal(body, &ae)

	switch {
	case notFoundCodes[ae.Code]:
		return &backend.Error{Kind: backend.ErrRelationNotFound, Entity: entity, Status: resp.StatusCode, Code: ae.Code, Message: ae.Message}
	case deniedCodes[ae.Code]:
		return &backend.Error{Kind: backend.ErrPermissionDenied, Entity: entity, Status: resp.StatusCode, Code: ae.Code, Message: ae.Message}
	case resp.StatusCode == http.StatusNotFound && ae.Code == "" && entity != "":
		return &backend.Error{Kind: backend.ErrRelationNotFound, Entity: entity, Status: resp.StatusCode}
	}

	msg := ae.Message
	if msg == "" {
		msg = truncate(string(body), 200)
	}
	return &StatusError{Status: resp.StatusCode, Code: ae.Code, Body: msg}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
