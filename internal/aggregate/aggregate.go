// Package aggregate defines how paged feature responses are combined.
package aggregate

type Interface interface {
	Merge(parts [][]byte) ([]byte, error)
}
