package journeys

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/sablesec/strikepoint/internal/scans"
)

var (
	ErrUnknownJourneyType = errors.New("unknown journey type")
	ErrConfigMismatch     = errors.New("config does not match journey type")
)

// ValidationError rejects a malformed journey config before any job is
// created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Config is a tagged union over the per-type journey configurations. Exactly
// one variant is set, matching the journey's type.
type Config struct {
	Type          Type                 `json:"type"`
	AttackSurface *AttackSurfaceConfig `json:"attack_surface,omitempty"`
	ADHygiene     *ADHygieneConfig     `json:"ad_hygiene,omitempty"`
	EDRTesting    *EDRTestingConfig    `json:"edr_testing,omitempty"`
}

type configEnvelope struct {
	Type          Type            `json:"type"`
	AttackSurface json.RawMessage `json:"attack_surface,omitempty"`
	ADHygiene     json.RawMessage `json:"ad_hygiene,omitempty"`
	EDRTesting    json.RawMessage `json:"edr_testing,omitempty"`
}

// UnmarshalJSON decodes only the variant named by the type tag; payloads for
// other variants are rejected rather than silently dropped.
func (c *Config) UnmarshalJSON(data []byte) error {
	var env configEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	*c = Config{Type: env.Type}
	switch env.Type {
	case TypeAttackSurface:
		if env.AttackSurface == nil {
			return fmt.Errorf("%w: missing attack_surface payload", ErrConfigMismatch)
		}
		c.AttackSurface = &AttackSurfaceConfig{}
		return json.Unmarshal(env.AttackSurface, c.AttackSurface)
	case TypeADHygiene:
		if env.ADHygiene == nil {
			return fmt.Errorf("%w: missing ad_hygiene payload", ErrConfigMismatch)
		}
		c.ADHygiene = &ADHygieneConfig{}
		return json.Unmarshal(env.ADHygiene, c.ADHygiene)
	case TypeEDRTesting:
		if env.EDRTesting == nil {
			return fmt.Errorf("%w: missing edr_testing payload", ErrConfigMismatch)
		}
		c.EDRTesting = &EDRTestingConfig{}
		return json.Unmarshal(env.EDRTesting, c.EDRTesting)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJourneyType, env.Type)
	}
}

// Validate checks the config against the journey type and its variant's own
// constraints. Targets originate from tenant input and are validated here,
// before any job exists.
func (c Config) Validate(journeyType Type) error {
	if c.Type != journeyType {
		return fmt.Errorf("%w: journey is %q, config is %q", ErrConfigMismatch, journeyType, c.Type)
	}

	switch c.Type {
	case TypeAttackSurface:
		if c.AttackSurface == nil {
			return fmt.Errorf("%w: missing attack_surface payload", ErrConfigMismatch)
		}
		return c.AttackSurface.validate()
	case TypeADHygiene:
		if c.ADHygiene == nil {
			return fmt.Errorf("%w: missing ad_hygiene payload", ErrConfigMismatch)
		}
		return c.ADHygiene.validate()
	case TypeEDRTesting:
		if c.EDRTesting == nil {
			return fmt.Errorf("%w: missing edr_testing payload", ErrConfigMismatch)
		}
		return c.EDRTesting.validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJourneyType, c.Type)
	}
}

func (c *AttackSurfaceConfig) validate() error {
	if len(c.Targets) == 0 {
		return &ValidationError{Field: "targets", Reason: "at least one target required"}
	}
	for _, t := range c.Targets {
		if !validTarget(t) {
			return &ValidationError{Field: "targets", Reason: fmt.Sprintf("%q is not an IP, CIDR or hostname", t)}
		}
	}
	switch c.ScanType {
	case scans.RouteInternal, scans.RouteExternal:
	default:
		return &ValidationError{Field: "scan_type", Reason: "must be internal or external"}
	}
	if c.PortRange != "" && !validPortRange(c.PortRange) {
		return &ValidationError{Field: "port_range", Reason: fmt.Sprintf("%q is not a valid nmap port spec", c.PortRange)}
	}
	return nil
}

func (c *ADHygieneConfig) validate() error {
	if c.Domain == "" {
		return &ValidationError{Field: "domain", Reason: "required"}
	}
	if !validTarget(c.Domain) {
		return &ValidationError{Field: "domain", Reason: fmt.Sprintf("%q is not a valid domain", c.Domain)}
	}
	return nil
}

func (c *EDRTestingConfig) validate() error {
	if len(c.Scenarios) == 0 {
		return &ValidationError{Field: "scenarios", Reason: "at least one scenario required"}
	}
	return nil
}

// validTarget accepts an IP address, a CIDR prefix, or a hostname. Targets
// become argv elements of spawned tools, so anything that could smuggle an
// option is rejected.
func validTarget(t string) bool {
	if t == "" || strings.HasPrefix(t, "-") {
		return false
	}
	if _, err := netip.ParseAddr(t); err == nil {
		return true
	}
	if _, err := netip.ParsePrefix(t); err == nil {
		return true
	}
	return validHostname(t)
}

func validHostname(h string) bool {
	if len(h) > 253 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
	}
	return true
}

func validPortRange(spec string) bool {
	for _, part := range strings.Split(spec, ",") {
		for _, bound := range strings.SplitN(part, "-", 2) {
			if bound == "" {
				return false
			}
			for _, r := range bound {
				if r < '0' || r > '9' {
					return false
				}
			}
		}
	}
	return true
}
