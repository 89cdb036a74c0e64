// Package permit provides admission control and resource pacing for reads
// and background work.
//
// A Controller bounds concurrent reader admission, tracks reserved memory
// against a hard limit, and paces background IO. A Permit is the per-read
// token handed through the mutation-source contract; it carries the memory
// reserved on behalf of that read and releases it on Close.
//
// A nil *Controller and a nil *Permit are valid and enforce nothing, so
// callers can thread permits unconditionally.
package permit
