// Package verdict reduces per-instance decisions to a single frame verdict.
package verdict

// Rule decides one detected instance.
type Rule[T any] func(T) bool

// Any applies rule to each instance in order and reports whether any of them
// is positive. Evaluation stops at the first positive instance; an empty
// slice is negative.
func Any[T any](instances []T, rule Rule[T]) bool {
	for _, instance := range instances {
		if rule(instance) {
			return true
		}
	}
	return false
}
