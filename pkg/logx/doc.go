// Package logx configures remindbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Loggers created from a Service stay live across config reloads
// (Apply swaps sinks and level atomically).
package logx
