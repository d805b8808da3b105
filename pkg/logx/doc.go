// Package logx is a small zerolog facade used by packages that want a
// value-type structured logger (safe zero value, cheap With) instead of the
// slog handler tree the core runtime carries.
package logx
