package keys

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kiranshivaraju/keyguard/internal/store"
	"github.com/kiranshivaraju/keyguard/pkg/models"
)

// maxSecretLength bounds what is hashed; real secrets are 46 bytes.
const maxSecretLength = 256

// Validator decides whether a presented secret authorizes a caller.
// It never writes and is safe for concurrent use.
type Validator struct {
	store    store.Store
	digester *Digester
	opts     options
}

func NewValidator(st store.Store, digester *Digester, opts ...Option) *Validator {
	return &Validator{store: st, digester: digester, opts: buildOptions(opts)}
}

// Validate returns the matching credential when secret is usable from
// callerAddr. Every rejection satisfies errors.Is(err, ErrUnauthorized) and
// carries its reason in a *RejectedError. Store failures are returned as
// ErrStoreUnavailable and are not rejections.
func (v *Validator) Validate(ctx context.Context, secret, callerAddr string) (*models.Credential, error) {
	start := v.opts.now()
	c, err := v.validate(ctx, secret, callerAddr)
	elapsed := v.opts.now().Sub(start)

	var rejected *RejectedError
	switch {
	case err == nil:
		v.opts.metrics.RecordValidation(resultAuthorized, "", elapsed)
	case errors.As(err, &rejected):
		v.opts.metrics.RecordValidation(resultRejected, rejected.Reason, elapsed)
		slog.Info("api key rejected",
			"reason", string(rejected.Reason),
			"key_id", rejected.CredentialID,
			"caller", callerAddr,
		)
	default:
		v.opts.metrics.RecordValidation(resultError, "", elapsed)
		slog.Error("api key validation failed", "error", err, "caller", callerAddr)
	}
	return c, err
}

func (v *Validator) validate(ctx context.Context, secret, callerAddr string) (*models.Credential, error) {
	if secret == "" || len(secret) > maxSecretLength {
		return nil, reject(ReasonUnknownKey, 0)
	}

	digest := v.digester.Digest(secret)
	c, err := v.store.FindByDigest(ctx, digest)
	if errors.Is(err, store.ErrNotFound) {
		return nil, reject(ReasonUnknownKey, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(c.SecretDigest), []byte(digest)) != 1 {
		return nil, reject(ReasonUnknownKey, 0)
	}

	if !c.Active {
		return nil, reject(ReasonRevoked, c.ID)
	}
	if c.Expired(v.opts.now()) {
		return nil, reject(ReasonExpired, c.ID)
	}
	if len(c.AllowedIPs) > 0 {
		caller := canonicalAddr(callerAddr)
		if caller == "" || !slices.Contains(c.AllowedIPs, caller) {
			return nil, reject(ReasonIPNotAllowed, c.ID)
		}
	}
	return c, nil
}
