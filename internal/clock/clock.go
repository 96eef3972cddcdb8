// Package clock abstracts wall-clock time so schedule decisions are testable.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
