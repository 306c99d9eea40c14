// Package tensorir implements a small immutable tensor IR together with its
// shape-inference and canonicalization engine.
//
// A program is a Func: a flat list of operations over shaped values, where
// each operation is constructed through a builder method on Func
// (Func.ExtractSlice, Func.Pad, ...) that eagerly verifies the structural
// invariants of the operation and infers its result shape. A malformed
// operation is never added to the graph: the builder returns an error
// instead.
//
// Simplification happens through two separate surfaces, both driven by an
// external rewrite driver:
//
//   - Op.Fold: local, context-free simplification of one operation to a
//     literal or to an already-existing value. "No fold" is an expected
//     outcome, signaled by an empty FoldResult.
//   - CanonicalizationPatterns: per operation kind, rewrite rules that
//     replace a matched operation (and possibly its neighbors) with an
//     equivalent, more canonical form. Patterns are registered into a
//     PatternSink and applied through a Rewriter.
//
// Shapes mix static and dynamic extents (see the types/shapes package), and
// operation parameters that may be either compile-time integers or runtime
// values are carried as mixed index lists (see Mixed).
package tensorir
