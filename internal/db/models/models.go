// Package models defines the database models for the sync engine
package models

// ListOptions provides pagination options for list operations
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListLimit is applied when a list request does not set a limit
const DefaultListLimit = 50

// WithDefaults returns the options with a sane limit applied.
func (o *ListOptions) WithDefaults() ListOptions {
	if o == nil {
		return ListOptions{Limit: DefaultListLimit}
	}
	opts := *o
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	return opts
}
