// Package chart plans declarative chart descriptions from shaped tables and renders
// them to PNG or a terminal preview.
//
// Planning is pure: Plan picks the x and y columns from the table's inferred
// column roles and returns a declarative Spec. Rendering is a separate
// capability (Renderer) so the planner can be tested without images.
package chart
