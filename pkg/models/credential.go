package models

import "time"

// Credential statuses as reported in listings.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
	StatusExpired = "expired"
)

// Credential is a stored API key record.
// Raw keys are shown once at creation; only the keyed digest is stored.
type Credential struct {
	ID           int64     `db:"id"            json:"id"`
	Name         string    `db:"name"          json:"name"`
	SecretDigest string    `db:"secret_digest" json:"-"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	ExpiresAt    time.Time `db:"expires_at"    json:"expires_at"`
	AllowedIPs   []string  `db:"allowed_ips"   json:"allowed_ips"`
	Active       bool      `db:"active"        json:"active"`
}

// Expired reports whether the credential is past its expiration at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Status returns the lifecycle status at now. Revocation wins over expiry.
func (c *Credential) Status(now time.Time) string {
	switch {
	case !c.Active:
		return StatusRevoked
	case c.Expired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// View builds the public projection of c. It never carries the digest.
func (c *Credential) View(now time.Time) CredentialView {
	ips := make([]string, len(c.AllowedIPs))
	copy(ips, c.AllowedIPs)
	return CredentialView{
		ID:         c.ID,
		Name:       c.Name,
		CreatedAt:  c.CreatedAt,
		ExpiresAt:  c.ExpiresAt,
		AllowedIPs: ips,
		Active:     c.Active,
		Status:     c.Status(now),
	}
}

// CredentialView is what listings return to administrators.
type CredentialView struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AllowedIPs []string   `json:"allowed_ips"`
	Active     bool       `json:"active"`
	Status     string     `json:"status"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UseCount   int64      `json:"use_count"`
}

// CreatedKey is returned exactly once, when a key is issued.
type CreatedKey struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	APIKey     string    `json:"api_key"`
	ExpiresAt  time.Time `json:"expires_at"`
	AllowedIPs []string  `json:"allowed_ips"`
}

// Usage summarises how often a credential has been accepted.
type Usage struct {
	LastUsedAt time.Time
	Count      int64
}
