//go:build !gengrindlog
// +build !gengrindlog

package generator

// verboseGrind reports whether the build was compiled with the gengrindlog
// tag enabled. Off by default: logging every nonce attempt of the grind
// loop is useful when debugging a pattern that isn't converging, but costs
// real throughput across the ~1024 iterations a normal match takes.
const verboseGrind = false
