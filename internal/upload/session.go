package upload

import (
	"time"

	"github.com/unishare/uploadsvc/internal/storage"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// OwnerKind names the entity type an upload can be attached to.
type OwnerKind string

const (
	OwnerDocument          OwnerKind = "document"
	OwnerPostAttachment    OwnerKind = "post_attachment"
	OwnerGroupCover        OwnerKind = "group_cover"
	OwnerMessageAttachment OwnerKind = "message_attachment"
	OwnerProfilePicture    OwnerKind = "profile_picture"
)

// ParseOwnerKind validates an owner type received from a client.
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch OwnerKind(s) {
	case OwnerDocument, OwnerPostAttachment, OwnerGroupCover, OwnerMessageAttachment, OwnerProfilePicture:
		return OwnerKind(s), nil
	}
	return "", &ValidationError{Field: "owner_type", Message: "unknown owner type " + s}
}

// OwnerRef attaches an upload to a logical owning entity.
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   int64     `json:"id"`
}

// Session is one file transfer attempt. It is mutated only by the
// Coordinator; everything else sees read-only snapshots.
type Session struct {
	Token            string       `json:"token"`
	UserID           string       `json:"user_id"`
	OriginalFilename string       `json:"original_filename"`
	StoredFilename   string       `json:"stored_filename"`
	MimeType         string       `json:"mime_type"`
	FileSize         int64        `json:"file_size"`
	Fingerprint      string       `json:"fingerprint,omitempty"`
	Backend          storage.Kind `json:"storage_type"`
	Status           Status       `json:"status"`
	ChunksTotal      int          `json:"chunks_total"`
	ChunksReceived   int          `json:"chunks_received"`
	LocalPath        string       `json:"local_path,omitempty"`
	ObjectKey        string       `json:"object_key,omitempty"`
	ExternalID       string       `json:"external_id,omitempty"`
	ExternalURL      string       `json:"external_url,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	Owner            *OwnerRef    `json:"owner,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the session can no longer change state.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// IsComplete reports whether the upload finished successfully.
func (s *Session) IsComplete() bool {
	return s.Status == StatusCompleted
}

// Location rebuilds the storage location from the session's final fields, or
// nil if no location has been assigned yet.
func (s *Session) Location() *storage.Location {
	switch {
	case s.LocalPath != "":
		return &storage.Location{Kind: s.Backend, LocalPath: s.LocalPath, URL: s.ExternalURL}
	case s.ObjectKey != "":
		return &storage.Location{Kind: s.Backend, ObjectKey: s.ObjectKey, URL: s.ExternalURL}
	case s.ExternalID != "":
		return &storage.Location{Kind: s.Backend, ExternalID: s.ExternalID, URL: s.ExternalURL}
	}
	return nil
}

// setLocation populates exactly one location field from loc.
func (s *Session) setLocation(loc *storage.Location) {
	s.LocalPath = loc.LocalPath
	s.ObjectKey = loc.ObjectKey
	s.ExternalID = loc.ExternalID
	s.ExternalURL = loc.URL
}

// Clone returns a copy safe to hand outside the coordinator.
func (s *Session) Clone() *Session {
	c := *s
	if s.Owner != nil {
		owner := *s.Owner
		c.Owner = &owner
	}
	return &c
}
