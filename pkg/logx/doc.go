// Package logx configures remindd's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Sinks and level swappable at runtime on config reload
package logx
