// Package antispoof scores raw voice samples for liveness and synthetic
// speech using fixed amplitude heuristics.
//
// Every function here is a pure, deterministic function of the sample
// slice. Samples are normalized PCM amplitudes, nominally in [-1, 1].
// The thresholds and weights are part of the scoring contract: callers
// and tests rely on exact boundary behavior, so they are exported as
// constants rather than configuration.
package antispoof
