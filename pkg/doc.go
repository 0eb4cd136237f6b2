// Package pkg holds ambient fabric-wide concerns shared by every CXL
// component package: structured logging ([LogDebug], [LogInfo], ...),
// the sentinel error and completion-status tables, prometheus metrics,
// and identifier generation. Nothing here is CXL-protocol-specific.
package pkg
