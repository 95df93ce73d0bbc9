package session

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/clientsync/internal/domain/shared"
)

// Role represents the access level of an authenticated identity
type Role string

const (
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a role string; unknown values map to guest
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleGuest:
		return RoleGuest, nil
	case RoleCustomer:
		return RoleCustomer, nil
	case RoleManager:
		return RoleManager, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return RoleGuest, shared.NewDomainError("INVALID_ROLE", "Unknown role: "+s)
	}
}

// IsOperator reports whether the role grants back-office access
func (r Role) IsOperator() bool {
	return r == RoleManager || r == RoleAdmin
}

// CacheTTL is how long an unconfirmed cached snapshot stays usable after its
// last successful remote validation.
const CacheTTL = 5 * time.Minute

// MaxRefreshFailures is the number of consecutive failed remote confirmations
// tolerated before the session is torn down locally.
const MaxRefreshFailures = 3

// Snapshot is one execution context's belief about who is logged in.
// It is never shared by reference between contexts, only by serialized copies.
type Snapshot struct {
	UserID        int64           `json:"user_id"`
	Username      string          `json:"username"`
	Role          Role            `json:"role"`
	FirstName     string          `json:"first_name,omitempty"`
	LastName      string          `json:"last_name,omitempty"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`

	// FromCache marks a snapshot adopted without fresh remote confirmation.
	FromCache bool `json:"from_cache,omitempty"`

	// CheckedAt is when the remote authority last confirmed this snapshot.
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Credentials carries a login attempt
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks that the credentials are submittable
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return shared.ErrInvalidInput
	}
	return nil
}

// DisplayName returns the human-readable name, falling back to the username
func (s *Snapshot) DisplayName() string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		return s.Username
	}
	return name
}

// Clone returns an independent copy
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ValidatedWithin reports whether the snapshot's last remote confirmation is
// recent enough to keep trusting it as a cached fallback.
func (s *Snapshot) ValidatedWithin(ttl time.Duration, now time.Time) bool {
	if s.CheckedAt.IsZero() {
		return false
	}
	return now.Sub(s.CheckedAt) <= ttl
}
