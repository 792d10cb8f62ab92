package models

import (
	"fmt"
	"time"
)

// AttemptFamily selects which table and matching rules an attempt record uses
type AttemptFamily string

const (
	// FamilyLogin records are keyed by (network bucket, identity key) and
	// looked up by bucket OR key
	FamilyLogin AttemptFamily = "login"
	// FamilySignUp records are keyed by network bucket alone
	FamilySignUp AttemptFamily = "signup"
)

// ParseAttemptFamily converts a path or config value into an AttemptFamily
func ParseAttemptFamily(s string) (AttemptFamily, error) {
	switch AttemptFamily(s) {
	case FamilyLogin, FamilySignUp:
		return AttemptFamily(s), nil
	case "sign-up", "sign_up":
		return FamilySignUp, nil
	}
	return "", fmt.Errorf("%w: unknown attempt family %q", ErrBadRequest, s)
}

// AttemptRecord is the counter row for one composite identity
type AttemptRecord struct {
	ID            string        `db:"id" json:"id"`
	Family        AttemptFamily `db:"-" json:"family"`
	NetworkBucket string        `db:"network_bucket" json:"network_bucket"`
	IdentityKey   string        `db:"identity_key" json:"identity_key,omitempty"`
	Count         int           `db:"count" json:"count"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
	PreviousAt    *time.Time    `db:"previous_at" json:"previous_at,omitempty"` // UpdatedAt before the latest increment
}

// Matches reports whether the record is the exact row for (bucket, key)
// under its family's keying rules
func (a *AttemptRecord) Matches(bucket, key string) bool {
	if a.Family == FamilySignUp {
		return a.NetworkBucket == bucket
	}
	return a.NetworkBucket == bucket && a.IdentityKey == key
}
