//go:build gengrindlog
// +build gengrindlog

package generator

const verboseGrind = true
