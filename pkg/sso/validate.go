package sso

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var providerKeyRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func init() {
	validate.RegisterValidation("provider_key", func(fl validator.FieldLevel) bool {
		return providerKeyRegex.MatchString(fl.Field().String())
	})
}

// Validate checks a provider config's fields and the cross-field rule that
// a public client (auth method none) must require PKCE
func (c *ProviderConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid provider config %q: %w", c.ProviderKey, err)
	}
	if c.TokenEndpointAuthMethod == AuthMethodNone && !c.PKCERequired {
		return fmt.Errorf("invalid provider config %q: %w", c.ProviderKey, newError(ReasonPKCERequiredForPublic, nil))
	}
	if c.AutoProvisionPolicy == PolicyDomainAllowlist && len(c.AllowedDomains) == 0 {
		return fmt.Errorf("invalid provider config %q: DOMAIN_ALLOWLIST needs allowed_domains", c.ProviderKey)
	}
	return nil
}
