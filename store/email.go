package store

// Version tags for stored emails. The numeric values are persisted and
// must never be reassigned.
type Version uint8

const (
	// VersionV1 is the original email layout without a fee.
	VersionV1 Version = 0
	// VersionCurrent is the layout written by this build.
	VersionCurrent Version = 1
)

// String returns a short name for the version.
func (v Version) String() string {
	switch v {
	case VersionV1:
		return "v1"
	case VersionCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// Email is the current shape of a stored message.
type Email struct {
	Title     string
	Content   string
	Timestamp uint64  // host time at creation, nanoseconds
	Fee       Balance // amount forwarded to the receiver at send time
}

// Versioned is a stored email in one of the known layouts.
// It is a closed set: EmailV1 and EmailCurrent are the only implementations.
type Versioned interface {
	// Version returns the layout tag the record is stored under.
	Version() Version
	// Upgrade resolves the record to the current shape. It never mutates
	// the receiver.
	Upgrade() Email

	sealed()
}

// EmailV1 is an email written before fees existed.
type EmailV1 struct {
	Title     string
	Content   string
	Timestamp uint64
}

func (EmailV1) Version() Version { return VersionV1 }

// Upgrade copies the shared fields and defaults Fee to zero.
func (e EmailV1) Upgrade() Email {
	return Email{
		Title:     e.Title,
		Content:   e.Content,
		Timestamp: e.Timestamp,
		Fee:       ZeroBalance,
	}
}

func (EmailV1) sealed() {}

// EmailCurrent wraps an email stored in the current layout.
type EmailCurrent struct {
	Email
}

func (EmailCurrent) Version() Version { return VersionCurrent }

func (e EmailCurrent) Upgrade() Email { return e.Email }

func (EmailCurrent) sealed() {}

// Compile-time checks
var (
	_ Versioned = EmailV1{}
	_ Versioned = EmailCurrent{}
)
