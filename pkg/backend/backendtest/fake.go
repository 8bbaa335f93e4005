// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"sync"
	"time"

	"github.com/cgast/schemaprobe/pkg/backend"
)

// Fake is a scriptable backend. Entities absent from Counts do not exist.
type Fake struct {
	Counts    map[string]int
	Protected map[string]bool          // anonymous reads refused
	Hidden    map[string]bool          // anonymous reads succeed but see no rows
	Errors    map[string]error         // returned for any read of the entity
	Delays    map[string]time.Duration // per-entity latency, honours ctx
	Panics    map[string]bool          // reads of the entity panic
	Identity  *backend.Identity
	AuthErr   error

	mu    sync.Mutex
	calls []string
}

// New returns a Fake with empty maps.
func New() *Fake {
	return &Fake{
		Counts:    make(map[string]int),
		Protected: make(map[string]bool),
		Hidden:    make(map[string]bool),
		Errors:    make(map[string]error),
		Delays:    make(map[string]time.Duration),
		Panics:    make(map[string]bool),
	}
}

// Clients returns the fake wired as every collaborator.
func (f *Fake) Clients() backend.Clients {
	return backend.Clients{Query: f, Anonymous: anonymous{f}, Auth: f}
}

// Calls returns the number of backend calls made so far.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CallLog returns the calls made so far, as "op:entity".
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(op, entity string) {
	f.mu.Lock()
	f.calls = append(f.calls, op+":"+entity)
	f.mu.Unlock()
}

func (f *Fake) wait(ctx context.Context, entity string) error {
	if f.Panics[entity] {
		panic("backendtest: scripted panic for " + entity)
	}
	d := f.Delays[entity]
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) lookup(ctx context.Context, entity string) (int, error) {
	if err := f.wait(ctx, entity); err != nil {
		return 0, err
	}
	if err := f.Errors[entity]; err != nil {
		return 0, err
	}
	n, ok := f.Counts[entity]
	if !ok {
		return 0, backend.NotFound(entity, "scripted missing")
	}
	return n, nil
}

// CountRows implements backend.Querier.
func (f *Fake) CountRows(ctx context.Context, entity string) (int, error) {
	f.record("count", entity)
	return f.lookup(ctx, entity)
}

// FetchRows implements backend.Querier.
func (f *Fake) FetchRows(ctx context.Context, entity string, limit int) ([]backend.Record, error) {
	f.record("fetch", entity)
	n, err := f.lookup(ctx, entity)
	if err != nil {
		return nil, err
	}
	return rows(n, limit), nil
}

// CurrentIdentity implements backend.Authenticator.
func (f *Fake) CurrentIdentity(ctx context.Context) (*backend.Identity, error) {
	f.record("identity", "")
	if err := f.wait(ctx, ""); err != nil {
		return nil, err
	}
	if f.AuthErr != nil {
		return nil, f.AuthErr
	}
	return f.Identity, nil
}

type anonymous struct {
	f *Fake
}

func (a anonymous) CountRows(ctx context.Context, entity string) (int, error) {
	a.f.record("anon-count", entity)
	if err := a.denied(ctx, entity); err != nil {
		return 0, err
	}
	n, err := a.f.lookup(ctx, entity)
	if err != nil || a.f.Hidden[entity] {
		return 0, err
	}
	return n, nil
}

func (a anonymous) FetchRows(ctx context.Context, entity string, limit int) ([]backend.Record, error) {
	a.f.record("anon-fetch", entity)
	if err := a.denied(ctx, entity); err != nil {
		return nil, err
	}
	n, err := a.f.lookup(ctx, entity)
	if err != nil {
		return nil, err
	}
	if a.f.Hidden[entity] {
		return []backend.Record{}, nil
	}
	return rows(n, limit), nil
}

func (a anonymous) denied(ctx context.Context, entity string) error {
	if !a.f.Protected[entity] {
		return nil
	}
	if err := a.f.wait(ctx, entity); err != nil {
		return err
	}
	return backend.Denied(entity, "scripted policy")
}

func rows(n, limit int) []backend.Record {
	if limit < n {
		n = limit
	}
	out := make([]backend.Record, n)
	for i := range out {
		out[i] = backend.Record{"id": i + 1}
	}
	return out
}
