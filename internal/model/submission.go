package model

import (
	"time"

	"github.com/google/uuid"
)

// Submission is one field record waiting in the outbox: a photo plus the
// metadata captured with it. Items are immutable once stored; they are only
// inserted or removed.
type Submission struct {
	// SubmissionID is the idempotency token presented to the remote system.
	SubmissionID string `json:"submission_uuid"`
	// CreatedAt is milliseconds since epoch, used for drain order.
	CreatedAt int64 `json:"created_at"`
	// Endpoint is the remote base URL, resolved once when the item is created.
	Endpoint string `json:"endpoint,omitempty"`

	User         string   `json:"usuario" validate:"required"`
	Lot          string   `json:"lote"`
	LotCode      string   `json:"lote_cod"`
	ActivityCode string   `json:"cod_atividade"`
	Activity     string   `json:"atividade"`
	AppVersion   string   `json:"app_version"`
	Lat          *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Long         *float64 `json:"long,omitempty" validate:"omitempty,longitude"`
	AccuracyM    *float64 `json:"accuracy_m,omitempty" validate:"omitempty,gte=0"`
	Notes        string   `json:"obs"`
	Rain         Flag     `json:"chuva"`
	FakeGPS      Flag     `json:"fake_gps"`
	PhotoBase64  string   `json:"foto_base64" validate:"required"`
}

// EnsureIdentity assigns a submission id and creation time if missing.
// Existing values are never overwritten.
func (s *Submission) EnsureIdentity(now time.Time) {
	if s.SubmissionID == "" {
		s.SubmissionID = uuid.NewString()
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = now.UnixMilli()
	}
}

// CreatedTime returns CreatedAt as a time.Time.
func (s Submission) CreatedTime() time.Time {
	return time.UnixMilli(s.CreatedAt).UTC()
}

// WithoutPhoto returns a copy of s with the photo payload dropped, for listings.
func (s Submission) WithoutPhoto() Submission {
	s.PhotoBase64 = ""
	return s
}
