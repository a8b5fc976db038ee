// Package logx configures vigil's structured logging.
//
// Logger is a small wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The zero Logger is a safe no-op, so components can accept a Logger value
// without nil checks.
package logx
