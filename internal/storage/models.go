package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ThreadSummary is a thread listing entry without the message bodies.
type ThreadSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Integration is a linked external account. Its absence is a normal state.
type Integration struct {
	UserID      string
	Provider    string
	AccessToken string
	UpdatedAt   time.Time
}
