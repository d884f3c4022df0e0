package services

import (
	"crypto/sha256"
	"fmt"

	"warden/internal/models"
)

// Scope identifies one axis under which login failures are counted. Key is
// the storage key; Kind, Username and IPAddress record how it was derived.
type Scope struct {
	Kind      string
	Key       string
	Username  *string
	IPAddress *string
}

// ScopePolicy maps an attempt's identity to the scopes it is counted under.
// The mapping is pure and never touches storage.
type ScopePolicy struct {
	policy Policy
}

// NewScopePolicy creates a ScopePolicy for the given policy.
func NewScopePolicy(policy Policy) *ScopePolicy {
	return &ScopePolicy{policy: policy}
}

// ScopesFor derives the ordered scope set for an attempt.
//
// By default the IP and the username are tracked independently, so either
// crossing the failure limit locks the request. Combination mode collapses
// both into a single username+IP pair. Only-user-failures mode tracks the
// username alone. A missing username always degrades to IP-only tracking
// rather than failing, and an attempt with no identity at all yields no
// scopes.
func (p *ScopePolicy) ScopesFor(username, ip, userAgent string) []Scope {
	var suffix string
	if p.policy.UseUserAgent {
		suffix = ":" + fingerprintUserAgent(userAgent)
	}

	var scopes []Scope
	switch {
	case p.policy.OnlyUserFailures:
		if username != "" {
			scopes = append(scopes, usernameScope(username, suffix))
		} else if ip != "" {
			scopes = append(scopes, ipScope(ip, suffix))
		}
	case p.policy.LockByCombination:
		switch {
		case username != "" && ip != "":
			scopes = append(scopes, pairScope(username, ip, suffix))
		case ip != "":
			scopes = append(scopes, ipScope(ip, suffix))
		case username != "":
			scopes = append(scopes, usernameScope(username, suffix))
		}
	default:
		if ip != "" {
			scopes = append(scopes, ipScope(ip, suffix))
		}
		if username != "" {
			scopes = append(scopes, usernameScope(username, suffix))
		}
	}
	return scopes
}

func ipScope(ip, suffix string) Scope {
	return Scope{
		Kind:      models.ScopeKindIP,
		Key:       "ip:" + ip + suffix,
		IPAddress: &ip,
	}
}

func usernameScope(username, suffix string) Scope {
	return Scope{
		Kind:     models.ScopeKindUsername,
		Key:      "user:" + username + suffix,
		Username: &username,
	}
}

func pairScope(username, ip, suffix string) Scope {
	return Scope{
		Kind:      models.ScopeKindPair,
		Key:       "pair:" + username + "@" + ip + suffix,
		Username:  &username,
		IPAddress: &ip,
	}
}

// fingerprintUserAgent hashes a user agent into a short stable token so
// scope keys stay bounded no matter how large the header was.
func fingerprintUserAgent(userAgent string) string {
	hash := sha256.Sum256([]byte(models.TruncateUserAgent(userAgent)))
	return fmt.Sprintf("%x", hash)[:32]
}
