// Package ledger tracks in-flight space reservations per storage backend so
// concurrent uploads cannot collectively overcommit a backend's headroom.
//
// Reservations are a best-effort admission-control hint: each one expires
// after a bounded TTL, so a reservation leaked by a crashed process recovers
// on its own. Accounting is an explicit collection keyed by backend, never a
// cache scan.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/unishare/uploadsvc/internal/storage"
)

// ErrDenied indicates the backend lacks headroom for the requested bytes.
var ErrDenied = errors.New("ledger: reservation denied")

// Reservation ties reserved bytes to an upload session on one backend.
type Reservation struct {
	Token     string       `json:"token"`
	Backend   storage.Kind `json:"backend"`
	Bytes     int64        `json:"bytes"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (r *Reservation) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Ledger records space reservations. At most one active reservation exists
// per session token; reserving again for the same token replaces it.
type Ledger interface {
	// Reserve records a reservation if available minus the backend's active
	// reservations still covers the requested bytes, else returns ErrDenied.
	Reserve(ctx context.Context, backend storage.Kind, token string, bytes, available int64) error

	// Release removes the session's reservation if present; idempotent.
	Release(ctx context.Context, token string) error

	// TotalActive sums the backend's non-expired reservations.
	TotalActive(ctx context.Context, backend storage.Kind) (int64, error)
}
