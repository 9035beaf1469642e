package keys

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/keyguard/internal/store"
	"github.com/kiranshivaraju/keyguard/pkg/models"
)

const (
	// SecretPrefix marks keyguard secrets so they are recognisable in logs and scanners.
	SecretPrefix = "ak_"
	secretBytes  = 32

	DefaultValidityDays = 365
	MaxNameLength       = 255

	// Collisions on 256 random bits only happen with a broken entropy source.
	maxGenerateAttempts = 3
)

// CreateParams are the caller-supplied inputs for a new key.
// A nil ValidityDays means DefaultValidityDays.
type CreateParams struct {
	Name         string
	ValidityDays *int
	AllowedIPs   []string
}

// Generator creates and persists new credentials.
type Generator struct {
	store    store.Store
	digester *Digester
	opts     options
}

func NewGenerator(st store.Store, digester *Digester, opts ...Option) *Generator {
	return &Generator{store: st, digester: digester, opts: buildOptions(opts)}
}

// Generate validates p, persists a new active credential and returns the
// plaintext secret. The plaintext is not retained anywhere.
func (g *Generator) Generate(ctx context.Context, p CreateParams) (string, *models.Credential, error) {
	name, err := normalizeName(p.Name)
	if err != nil {
		return "", nil, err
	}

	days := DefaultValidityDays
	if p.ValidityDays != nil {
		days = *p.ValidityDays
	}
	if days <= 0 || days > g.opts.maxValidityDays {
		return "", nil, fmt.Errorf("%w: validity_days must be between 1 and %d", ErrInvalidInput, g.opts.maxValidityDays)
	}

	ips, err := NormalizeIPs(p.AllowedIPs)
	if err != nil {
		return "", nil, err
	}

	expiresAt := g.opts.now().UTC().Add(time.Duration(days) * 24 * time.Hour).Truncate(time.Microsecond)

	for attempt := 1; ; attempt++ {
		secret, err := newSecret(g.opts.random)
		if err != nil {
			return "", nil, err
		}

		c := &models.Credential{
			Name:         name,
			SecretDigest: g.digester.Digest(secret),
			ExpiresAt:    expiresAt,
			AllowedIPs:   ips,
		}
		err = g.store.Insert(ctx, c)
		if err == nil {
			return secret, c, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return "", nil, fmt.Errorf("persist api key: %w", err)
		}
		if attempt == maxGenerateAttempts {
			return "", nil, fmt.Errorf("persist api key: %w: repeated digest collisions", ErrStoreUnavailable)
		}
	}
}

func newSecret(r io.Reader) (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrInvalidInput, MaxNameLength)
	}
	return name, nil
}

// NormalizeIPs trims entries, drops empty ones, and rewrites each address in
// canonical form (IPv4-mapped IPv6 unmapped), keeping first-seen order
// without duplicates. CIDR ranges and hostnames are rejected.
func NormalizeIPs(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid IP address %q", ErrInvalidInput, entry)
		}
		canonical := addr.Unmap().String()
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out, nil
}

// canonicalAddr returns the form NormalizeIPs would store for addr, or ""
// when addr is not an IP address.
func canonicalAddr(addr string) string {
	a, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return ""
	}
	return a.Unmap().String()
}
