package database

// Page limits.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page is a keyset pagination window: at most Limit rows with an ID
// strictly below Before. Before == 0 means "start from the newest row".
type Page struct {
	Limit  int
	Before int64
}

// Normalize clamps the limit into [1, MaxPageLimit], substituting the
// default for non-positive values, and discards negative cursors.
func (p Page) Normalize() Page {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageLimit
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}
	if p.Before < 0 {
		p.Before = 0
	}
	return p
}

// BeforeOrMax returns the cursor as an upper bound usable in
// "id < $n" comparisons.
func (p Page) BeforeOrMax() int64 {
	if p.Before <= 0 {
		return 1<<63 - 1
	}
	return p.Before
}
