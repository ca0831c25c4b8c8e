//go:build !invariants && !race

package buildutil

// Invariants is enabled when built with the invariants or race build tags.
const Invariants = false
