// Package limiter implements login-attempt throttling keyed on the login
// identity (zann's email), the calling device, and the source IP, so a
// sliding-window brute-force attempt against one account is contained even
// if the attacker cycles through addresses, and a compromised credential
// probed from many devices is contained even behind a shared NAT IP.
package limiter

import (
	"context"
	"time"
)

// Limiter controls login attempts and temporary lockouts. deviceHash is part
// of the bucket key together with identity and ipHash. AuthService passes
// Hash(deviceID), which is non-nil even for an empty device id, so a login
// with no device context gets its own bucket, distinct from any real device.
// The PostgreSQL implementation stores deviceHash in a NOT NULL key column
// and does not accept a nil deviceHash as a bucket of its own.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, identity string, deviceHash, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, identity string, deviceHash, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, identity string, deviceHash, ipHash []byte) (bool, time.Duration, error)
}
