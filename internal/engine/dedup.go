package engine

// Ledger tracks alert identities observed during the current session so each
// distinct event is processed exactly once. It is owned by the scheduler
// goroutine; the check-then-insert sequence per record is never interleaved
// with another poll cycle.
type Ledger struct {
	seen map[string]struct{}
}

// NewLedger creates an empty dedup ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// IsNew reports whether the identity has not been observed this session.
func (l *Ledger) IsNew(identity string) bool {
	_, exists := l.seen[identity]
	return !exists
}

// MarkSeen records the identity as observed.
func (l *Ledger) MarkSeen(identity string) {
	l.seen[identity] = struct{}{}
}

// Size returns the number of observed identities.
func (l *Ledger) Size() int {
	return len(l.seen)
}

// Reset clears the ledger entirely. The ledger grows without bound between
// resets; a reset happens on city or range changes.
func (l *Ledger) Reset() {
	l.seen = make(map[string]struct{})
}
