package store

import "time"

// Barrage display modes accepted by the API. Unknown values fall back
// to ModeRight at the validation boundary.
const (
	ModeRight  = "right"
	ModeLeft   = "left"
	ModeCenter = "center"
)

// Barrage visibility states. The transition visible -> under_review is
// one-way and happens at most once per barrage.
const (
	StatusVisible     = "visible"
	StatusUnderReview = "under_review"
)

type User struct {
	ID                string
	Username          string
	Email             string
	PasswordHash      string
	AvatarURL         string
	IsEmailVerified   bool
	VerificationToken string
	CreatedAt         time.Time
}

type Barrage struct {
	ID        int64
	UserID    string
	Content   string
	Color     string
	BgColor   string
	Mode      string
	Speed     int
	Status    string
	CreatedAt time.Time

	// Joined author fields for pull responses.
	Username  string
	AvatarURL string
}

// ReportOutcome describes what a ReportBarrage call did. Transitioned
// is true only for the single transaction that flipped the barrage to
// under_review; callers use it to send exactly one moderation alert.
type ReportOutcome struct {
	Duplicate    bool
	Count        int
	Transitioned bool
	Content      string
	Author       string
}
