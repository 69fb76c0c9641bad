package usecase

import "time"

// SetClock replaces the gate's clock.
func (g *PaymentGate) SetClock(now func() time.Time) { g.now = now }
