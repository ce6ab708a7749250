package mds

// Source is the interface for getting raw records one at a time.
// Implementations return io.EOF once the underlying data is exhausted, and
// should be safe for concurrent use.
type Source interface {
	Record() (interface{}, error)
}
