// Package gate restricts the key-management surface to configured caller addresses.
package gate

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// ErrDenied is returned when a caller may not use the management surface.
var ErrDenied = errors.New("admin access denied")

// Config is the admin allowlist policy.
type Config struct {
	// Wildcard admits every caller.
	Wildcard bool
	// Allowed lists admitted addresses. Entries are compared unmapped.
	Allowed []netip.Addr
	// AllowLoopbackIfUnconfigured admits loopback callers while Allowed is empty.
	AllowLoopbackIfUnconfigured bool
}

// Gate decides whether a caller address may manage keys.
// It holds no mutable state and never touches the credential store.
type Gate struct {
	cfg Config
}

func New(cfg Config) *Gate {
	allowed := make([]netip.Addr, 0, len(cfg.Allowed))
	for _, a := range cfg.Allowed {
		allowed = append(allowed, a.Unmap())
	}
	cfg.Allowed = allowed
	return &Gate{cfg: cfg}
}

// Authorize returns nil when callerAddr is admitted and ErrDenied otherwise.
func (g *Gate) Authorize(callerAddr string) error {
	if g.cfg.Wildcard {
		return nil
	}

	callerAddr = strings.TrimSpace(callerAddr)
	addr, err := netip.ParseAddr(callerAddr)
	parsed := err == nil
	if parsed {
		addr = addr.Unmap()
	}

	if len(g.cfg.Allowed) == 0 {
		if g.cfg.AllowLoopbackIfUnconfigured && isLoopback(callerAddr, addr, parsed) {
			return nil
		}
		return ErrDenied
	}

	if parsed && slices.Contains(g.cfg.Allowed, addr) {
		return nil
	}
	return ErrDenied
}

func isLoopback(raw string, addr netip.Addr, parsed bool) bool {
	if strings.EqualFold(raw, "localhost") {
		return true
	}
	return parsed && addr.IsLoopback()
}

// ParseAllowlist parses a comma-separated allowlist. A lone "*" is the
// wildcard; "*" mixed with addresses, or any unparsable entry, is an error.
// Empty entries are ignored, so "" yields an unconfigured list.
func ParseAllowlist(raw string) (wildcard bool, allowed []netip.Addr, err error) {
	if strings.TrimSpace(raw) == "*" {
		return true, nil, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return false, nil, fmt.Errorf("wildcard %q cannot be combined with addresses", entry)
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return false, nil, fmt.Errorf("invalid admin address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		if !slices.Contains(allowed, addr) {
			allowed = append(allowed, addr)
		}
	}
	return false, allowed, nil
}

// FromAllowlist builds a Gate from the raw configuration string.
func FromAllowlist(raw string, allowLoopbackIfUnconfigured bool) (*Gate, error) {
	wildcard, allowed, err := ParseAllowlist(raw)
	if err != nil {
		return nil, err
	}
	return New(Config{
		Wildcard:                    wildcard,
		Allowed:                     allowed,
		AllowLoopbackIfUnconfigured: allowLoopbackIfUnconfigured,
	}), nil
}
