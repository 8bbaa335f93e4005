package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/cgast/schemaprobe/pkg/backend"
	"github.com/cgast/schemaprobe/pkg/catalog"
)

// Checker executes one kind of check. Checkers report problems through the
// Result; they never return errors.
type Checker func(ctx context.Context, clients backend.Clients, spec catalog.CheckSpec) Result

// builtinCheckers maps check kinds to their implementations.
var builtinCheckers = map[catalog.Kind]Checker{
	catalog.KindEntityExists:     checkEntityExists,
	catalog.KindSeedDataPresent:  checkSeedDataPresent,
	catalog.KindAuthReachable:    checkAuthReachable,
	catalog.KindSecurityEnforced: checkSecurityEnforced,
}

// checkEntityExists passes when the backend accepts a count against the
// target. A permission error still proves the relation exists.
func checkEntityExists(ctx context.Context, clients backend.Clients, spec catalog.CheckSpec) Result {
	res := newResult(spec)
	n, err := clients.Query.CountRows(ctx, spec.Target)
	switch {
	case err == nil:
		return res.pass(n, fmt.Sprintf("entity %q exists", spec.Target))
	case errors.Is(err, backend.ErrRelationNotFound):
		return res.fail(nil, fmt.Sprintf("entity %q is missing", spec.Target))
	case errors.Is(err, backend.ErrPermissionDenied):
		return res.pass(nil, fmt.Sprintf("entity %q exists (read restricted)", spec.Target))
	}
	return res.errored(errorMessage(err))
}

// checkSeedDataPresent passes when the target holds at least the threshold.
func checkSeedDataPresent(ctx context.Context, clients backend.Clients, spec catalog.CheckSpec) Result {
	res := newResult(spec)
	want := spec.MinRows()
	n, err := clients.Query.CountRows(ctx, spec.Target)
	switch {
	case err == nil && n >= want:
		return res.pass(n, fmt.Sprintf("%d rows in %q (need %d)", n, spec.Target, want))
	case err == nil:
		return res.fail(n, fmt.Sprintf("only %d rows in %q, expected at least %d", n, spec.Target, want))
	case errors.Is(err, backend.ErrRelationNotFound):
		return res.fail(nil, fmt.Sprintf("entity %q is missing, cannot hold seed data", spec.Target))
	}
	return res.errored(errorMessage(err))
}

// checkAuthReachable passes for both a session and an anonymous answer.
func checkAuthReachable(ctx context.Context, clients backend.Clients, spec catalog.CheckSpec) Result {
	res := newResult(spec)
	id, err := clients.Auth.CurrentIdentity(ctx)
	switch {
	case err != nil:
		return res.errored(errorMessage(err))
	case id == nil:
		return res.pass("anonymous", "auth reachable, no active session")
	}
	return res.pass(id.ID, fmt.Sprintf("auth reachable, session for %s", id.ID))
}

// checkSecurityEnforced passes when an unauthenticated read is refused, or
// when it comes back empty while the privileged client can see rows.
func checkSecurityEnforced(ctx context.Context, clients backend.Clients, spec catalog.CheckSpec) Result {
	res := newResult(spec)
	rows, err := clients.Anonymous.FetchRows(ctx, spec.Target, 1)
	switch {
	case errors.Is(err, backend.ErrPermissionDenied):
		return res.pass(nil, fmt.Sprintf("anonymous read of %q rejected", spec.Target))
	case err == nil && len(rows) == 0:
		return checkHiddenRows(ctx, clients, spec, res)
	case err == nil:
		res = res.fail(len(rows), fmt.Sprintf("anonymous read of %q succeeded; row-level security is not enforced", spec.Target))
		res.PolicyViolation = true
		return res
	case errors.Is(err, backend.ErrRelationNotFound):
		return res.fail(nil, fmt.Sprintf("entity %q is missing, policy cannot be verified", spec.Target))
	}
	return res.errored(errorMessage(err))
}

// checkHiddenRows tells a policy that filters every row from an empty
// table. Row-level security on a table with no rows cannot be observed, so
// the empty table keeps counting as a violation.
func checkHiddenRows(ctx context.Context, clients backend.Clients, spec catalog.CheckSpec, res Result) Result {
	n, err := clients.Query.CountRows(ctx, spec.Target)
	switch {
	case err == nil && n > 0:
		return res.pass(0, fmt.Sprintf("anonymous read of %q returned none of %d rows", spec.Target, n))
	case err == nil:
		res = res.fail(0, fmt.Sprintf("anonymous read of %q succeeded on an empty table; row-level security cannot be confirmed", spec.Target))
		res.PolicyViolation = true
		return res
	case errors.Is(err, backend.ErrRelationNotFound):
		return res.fail(nil, fmt.Sprintf("entity %q is missing, policy cannot be verified", spec.Target))
	}
	return res.errored(errorMessage(err))
}

func errorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutMessage
	}
	return err.Error()
}
