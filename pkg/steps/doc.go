// Package steps implements the pure step-collection algorithms of a workflow:
// batched create/update/delete actions and explicit reordering. Every function
// works on a copy of its input and never touches persistence.
package steps
