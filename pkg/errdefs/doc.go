/*
Package errdefs defines the error vocabulary shared by every burrow
component.

Each error produced inside the control plane or the worker agent wraps
exactly one kind sentinel (not_found, conflict, token_exhausted, ...).
Call sites branch on kinds with errors.Is; the HTTP adapters translate
kinds to status codes through HTTPStatus, which is the single place that
mapping lives.

Creating errors:

	return errdefs.NotFound("worker %s", hostname)
	return errdefs.Conflict("deployment already running for %s on %s", serviceID, hostname)

Checking errors:

	if errors.Is(err, errdefs.ErrTokenExhausted) { ... }
*/
package errdefs
