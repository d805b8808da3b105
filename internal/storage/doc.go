// Package storage persists small amounts of bot state, currently the
// per-plugin alert subscriber lists. Two drivers: a dependency-free file
// backend and a SQLite backend behind the "sqlite" build tag.
package storage
