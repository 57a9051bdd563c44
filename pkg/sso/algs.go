package sso

import (
	"fmt"
	"strings"
)

// DefaultIDTokenAlg is used when neither the provider config nor the
// discovery document names any signing algorithm. It narrows verification to
// a single algorithm; providers signing with anything else must be configured
// explicitly.
const DefaultIDTokenAlg = "RS256"

// SafeIDTokenAlgs are the only signing algorithms ID tokens may ever be
// verified with. Symmetric (HS*) and "none" are excluded.
var SafeIDTokenAlgs = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// IsSafeIDTokenAlg reports whether alg belongs to the safe set
func IsSafeIDTokenAlg(alg string) bool {
	return containsString(SafeIDTokenAlgs, strings.ToUpper(strings.TrimSpace(alg)))
}

// ResolveAllowedAlgs computes the allow-list handed to the token verifier.
// A configured list is confined to the safe set and then to what the provider
// advertises; with no configured list the advertised algorithms are confined
// to the safe set, and a provider that advertises nothing gets DefaultIDTokenAlg.
func ResolveAllowedAlgs(configured, advertised []string) ([]string, error) {
	advertisedSafe := safeSubset(advertised)

	if len(configured) > 0 {
		allowed := safeSubset(configured)
		if len(allowed) == 0 {
			return nil, newError(ReasonIDTokenAlgInvalid,
				fmt.Errorf("configured algorithms %v contain no asymmetric signing algorithm", configured))
		}
		if len(advertised) > 0 {
			allowed = intersect(allowed, advertisedSafe)
			if len(allowed) == 0 {
				return nil, newError(ReasonIDTokenAlgUnsupported,
					fmt.Errorf("provider advertises none of %v", configured))
			}
		}
		return allowed, nil
	}

	if len(advertised) == 0 {
		return []string{DefaultIDTokenAlg}, nil
	}
	if len(advertisedSafe) == 0 {
		return nil, newError(ReasonIDTokenAlgUnsupported,
			fmt.Errorf("provider advertises no asymmetric signing algorithm: %v", advertised))
	}
	return advertisedSafe, nil
}

// safeSubset normalizes algs and keeps the safe ones, preserving order
func safeSubset(algs []string) []string {
	out := make([]string, 0, len(algs))
	for _, a := range algs {
		a = strings.ToUpper(strings.TrimSpace(a))
		if containsString(SafeIDTokenAlgs, a) && !containsString(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if containsString(b, v) {
			out = append(out, v)
		}
	}
	return out
}
