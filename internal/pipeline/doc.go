// Package pipeline runs one upload through validation, the bounded
// encode-and-publish worker pool, and the catalog commit.
//
// Jobs are independent (breakpoint, codec) pairs that read the immutable
// source and write distinct storage keys. The catalog write waits for every
// job to settle; per-job failures become warnings on the run result. A run
// fails only when validation fails, when no job succeeds, or when the catalog
// write fails, in which case objects uploaded by the run that no existing
// record references are deleted again.
//
// Concurrent runs for the same filename are not serialized here; callers must
// do that themselves.
package pipeline
