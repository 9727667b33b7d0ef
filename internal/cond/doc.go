// Package cond implements the boolean expression language used to gate
// pipeline stages and to compile trigger clauses.
//
// The language is deliberately small: string equality against run-context
// variables, prefix and anchored glob matching on those variables, boolean
// AND/OR/NOT, parentheses, and the literals true/false.
//
// Evaluation is pure: an expression plus a variable lookup yields a bool or
// an error. Unknown variables are errors, never silently false, so callers
// can fail closed.
package cond
