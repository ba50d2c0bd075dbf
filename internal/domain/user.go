package domain

import "time"

// User represents an account holder. Tasks are partitioned by owning user.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
