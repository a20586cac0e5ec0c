package objdb

// CacheLive reports how many identity-map slots still hold a reachable
// object. Test-only.
func (t *Table) CacheLive() int { return t.cache.live() }

// WhereFingerprint exposes the constraint-set fingerprint for tests.
func WhereFingerprint(where Where) string { return whereFingerprint(where) }
