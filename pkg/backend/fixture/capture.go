package fixture

import (
	"context"
	"errors"
	"fmt"

	"github.com/cgast/schemaprobe/pkg/backend"
)

// DefaultCaptureRows caps how many rows are copied per entity.
const DefaultCaptureRows = 1000

// CaptureSummary describes what a capture copied.
type CaptureSummary struct {
	Entities map[string]int    `json:"entities"` // rows copied per entity
	Missing  []string          `json:"missing,omitempty"`
	Denied   []string          `json:"denied,omitempty"` // anonymous reads refused
	Errors   map[string]string `json:"errors,omitempty"`
	Identity *backend.Identity `json:"identity,omitempty"`
}

// Capture snapshots targets from a live backend into dst. It only reads from
// src. Per-entity failures are recorded in the summary and do not stop the
// capture; only writes to dst are fatal.
func Capture(ctx context.Context, src backend.Clients, targets []string, dst *Store, maxRows int) (CaptureSummary, error) {
	if err := src.Validate(); err != nil {
		return CaptureSummary{}, err
	}
	if maxRows <= 0 {
		maxRows = DefaultCaptureRows
	}

	sum := CaptureSummary{
		Entities: make(map[string]int),
		Errors:   make(map[string]string),
	}

	for _, entity := range targets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		rows, err := src.Query.FetchRows(ctx, entity, maxRows)
		switch {
		case errors.Is(err, backend.ErrRelationNotFound):
			sum.Missing = append(sum.Missing, entity)
			continue
		case err != nil:
			sum.Errors[entity] = err.Error()
			continue
		}
		if err := dst.Seed(entity, rows...); err != nil {
			return sum, fmt.Errorf("capture %s: %w", entity, err)
		}
		sum.Entities[entity] = len(rows)

		anonRows, err := src.Anonymous.FetchRows(ctx, entity, 1)
		switch {
		case errors.Is(err, backend.ErrPermissionDenied),
			err == nil && len(anonRows) == 0 && len(rows) > 0:
			sum.Denied = append(sum.Denied, entity)
			if err := dst.SetPolicy(entity, Policy{AnonRead: false}); err != nil {
				return sum, fmt.Errorf("capture policy %s: %w", entity, err)
			}
		case err == nil:
			if err := dst.SetPolicy(entity, Policy{AnonRead: true}); err != nil {
				return sum, fmt.Errorf("capture policy %s: %w", entity, err)
			}
		default:
			sum.Errors[entity] = err.Error()
		}
	}

	id, err := src.Auth.CurrentIdentity(ctx)
	if err != nil {
		sum.Errors["auth"] = err.Error()
		return sum, nil
	}
	sum.Identity = id
	if err := dst.SetIdentity(id); err != nil {
		return sum, fmt.Errorf("capture identity: %w", err)
	}
	return sum, nil
}
