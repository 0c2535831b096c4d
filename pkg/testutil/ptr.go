// Package testutil provides helpers shared by the engine's test suites.
package testutil

// Ptr returns a pointer to v. Handy for the optional numeric fields of the
// config manifests.
func Ptr[T any](v T) *T { return &v }
