// Package system is the wall clock used outside tests.
package system

import "time"

// Clock satisfies keyword.Clock. Timestamps are UTC so persisted rows compare
// equal across hosts.
type Clock struct{}

// New returns a Clock.
func New() *Clock { return &Clock{} }

// Now is time.Now in UTC.
func (Clock) Now() time.Time { return time.Now().UTC() }
