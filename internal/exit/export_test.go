package exit

import "time"

// SetClock overrides time.Now for tests
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

func (e *Engine) SetClock(now func() time.Time) { e.now = now }
