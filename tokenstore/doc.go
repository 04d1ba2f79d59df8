// Package tokenstore is the Postgres-backed device-token lookup used by the
// delivery strategies.
package tokenstore
