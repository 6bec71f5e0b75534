package domain

import "time"

// Stamp orders rows of an append-only table. CreatedAt decides; Seq, a
// store-assigned monotonically increasing surrogate, breaks ties between rows
// inserted within the same clock tick.
type Stamp struct {
	CreatedAt time.Time
	Seq       int64
}

// After reports whether s is newer than o.
func (s Stamp) After(o Stamp) bool {
	if !s.CreatedAt.Equal(o.CreatedAt) {
		return s.CreatedAt.After(o.CreatedAt)
	}
	return s.Seq > o.Seq
}

// Versioned is implemented by every append-only row type.
type Versioned interface {
	VersionStamp() Stamp
}

// Latest returns the newest row among rows that satisfy keep (nil keeps all).
func Latest[T Versioned](rows []T, keep func(T) bool) (T, bool) {
	var (
		best  T
		found bool
	)
	for _, r := range rows {
		if keep != nil && !keep(r) {
			continue
		}
		if !found || r.VersionStamp().After(best.VersionStamp()) {
			best, found = r, true
		}
	}
	return best, found
}
