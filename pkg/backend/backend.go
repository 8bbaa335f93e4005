// Package backend defines the read-only contracts the verification harness
// uses to observe a hosted database/auth service.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Record is one row returned by a fetch.
type Record map[string]any

// Identity is the subject behind the current session.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Querier issues entity-scoped reads.
type Querier interface {
	CountRows(ctx context.Context, entity string) (int, error)
	FetchRows(ctx context.Context, entity string, limit int) ([]Record, error)
}

// Authenticator exposes the auth subsystem. A nil identity with a nil error
// means the caller was recognized as anonymous.
type Authenticator interface {
	CurrentIdentity(ctx context.Context) (*Identity, error)
}

// Clients is the set of collaborators a run is given.
type Clients struct {
	Query     Querier // privileged reads
	Anonymous Querier // reads without a session
	Auth      Authenticator
}

// Validate reports which collaborators are missing.
func (c Clients) Validate() error {
	switch {
	case c.Query == nil:
		return errors.New("backend: query client required")
	case c.Anonymous == nil:
		return errors.New("backend: anonymous client required")
	case c.Auth == nil:
		return errors.New("backend: auth client required")
	}
	return nil
}

var (
	// ErrRelationNotFound means the entity does not exist.
	ErrRelationNotFound = errors.New("relation not found")
	// ErrPermissionDenied means the backend refused the read.
	ErrPermissionDenied = errors.New("permission denied")
)

// Error is a classified backend error. Kind is one of the sentinels above.
type Error struct {
	Kind    error
	Entity  string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s", e.Entity, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// NotFound builds an ErrRelationNotFound error for entity.
func NotFound(entity, message string) error {
	return &Error{Kind: ErrRelationNotFound, Entity: entity, Message: message}
}

// Denied builds an ErrPermissionDenied error for entity.
func Denied(entity, message string) error {
	return &Error{Kind: ErrPermissionDenied, Entity: entity, Message: message}
}
