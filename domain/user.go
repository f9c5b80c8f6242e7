package domain

import "time"

// User is a directory entry for an identity that authenticated at least once.
type User struct {
	ID          UserID
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}
