// Package changestore is C5. See changestore.go for Open/recovery and
// the read-only index, ops.go for Add/Copy/Rename/Kill.
package changestore
