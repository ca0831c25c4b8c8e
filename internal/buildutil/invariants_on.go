//go:build invariants || race

package buildutil

// Invariants is enabled when built with the invariants or race build tags. It turns on the full
// ring re-verification after every registry mutation.
const Invariants = true
