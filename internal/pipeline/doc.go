// Package pipeline defines the declarative pipeline document: trigger
// clauses, stage declarations with matrix axes, needs edges, gate
// conditions, steps and artifact contracts.
//
// The document is loaded once per run, validated eagerly, and never mutated
// afterwards. All specification errors (dangling needs, empty matrix axes,
// unparsable conditions) are surfaced here, before any scheduling begins.
package pipeline
