// Package testutil provides testing utilities for strata.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random mutation workloads and for
// checking that a mutation source emits exactly the state those
// mutations converge to.
//
// # Random Workload Generation
//
//	rng := testutil.NewRNG(seed)
//	muts := testutil.GenerateMutations(rng, schema, 200)
//
// # Ground Truth
//
//	expected := testutil.ReferenceMerge(schema, muts)
//
// # Conformance
//
//	testutil.AssertSourceConforms(t, src, schema, expected)
package testutil
