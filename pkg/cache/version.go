package cache

import "sync/atomic"

// VersionGuard orders competing requests for the same slot, such as row
// loads for whichever table is currently active. Only the latest request
// may apply its result; earlier ones finish and are discarded.
type VersionGuard struct {
	v atomic.Uint64
}

// Next starts a new request and returns its version.
func (g *VersionGuard) Next() uint64 {
	return g.v.Add(1)
}

// IsCurrent reports whether version is still the latest request.
func (g *VersionGuard) IsCurrent(version uint64) bool {
	return g.v.Load() == version
}

// Current returns the latest version handed out.
func (g *VersionGuard) Current() uint64 {
	return g.v.Load()
}
