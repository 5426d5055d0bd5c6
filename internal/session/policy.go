package session

import "time"

// Policy answers token-validity questions against an injectable clock.
// A zero expiry instant is always treated as expired.
type Policy struct {
	// Margin is how close to expiry a token may get before it is
	// pre-emptively refreshed.
	Margin time.Duration

	// Now reports the current time; nil means time.Now.
	Now func() time.Time
}

// Expired reports whether expiry has passed: now >= expiry.
func (p Policy) Expired(expiry time.Time) bool {
	if expiry.IsZero() {
		return true
	}
	return !p.clock().Before(expiry)
}

// NearExpiry reports whether expiry is within the refresh margin:
// now >= expiry - margin.
func (p Policy) NearExpiry(expiry time.Time) bool {
	if expiry.IsZero() {
		return true
	}
	return !p.clock().Before(expiry.Add(-p.Margin))
}

func (p Policy) clock() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
