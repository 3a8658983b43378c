package domain

import "time"

// Turn is a single archived question/answer exchange.
type Turn struct {
	PK        string
	SK        string
	UserID    string
	RequestID string
	Question  string
	Answer    string
	Outcome   string
	CreatedAt time.Time
	TTL       int64
}

// UserMeta stores aggregate per-user archive state.
type UserMeta struct {
	PK           string
	SK           string
	UserID       string
	LastActivity string
	Turns        int
	TTL          int64
}
