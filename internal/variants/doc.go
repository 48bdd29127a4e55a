// Package variants turns one validated source image into encoded outputs.
//
// It classifies source orientation, resolves the breakpoints a usage context
// asks for (swapping edges for portrait sources and never upscaling), and
// encodes a resized copy per (breakpoint, codec) pair through a static codec
// table. Every function here is free of shared mutable state, so callers may
// run encode jobs in parallel.
package variants
