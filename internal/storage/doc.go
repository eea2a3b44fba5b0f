// Package storage provides the durable key-value store behind the reminder set.
//
// It currently supports:
//   - String values under string keys (full-replace Set, Get)
//   - An append-only dispatch log (one record per notification attempt)
package storage
