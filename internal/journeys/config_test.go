package journeys

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sablesec/strikepoint/internal/scans"
)

func TestConfigUnmarshalAttackSurface(t *testing.T) {
	raw := `{
		"type": "attack_surface",
		"attack_surface": {
			"targets": ["198.51.100.0/24", "scanme.example.org"],
			"scan_type": "external",
			"port_range": "1-1024",
			"nuclei_templates": ["cves", "exposures"]
		}
	}`

	var c Config
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, TypeAttackSurface, c.Type)
	require.NotNil(t, c.AttackSurface)
	assert.Nil(t, c.ADHygiene)
	assert.Nil(t, c.EDRTesting)
	assert.Equal(t, scans.RouteExternal, c.AttackSurface.ScanType)
	assert.Len(t, c.AttackSurface.Targets, 2)

	require.NoError(t, c.Validate(TypeAttackSurface))
}

func TestConfigUnmarshalUnknownType(t *testing.T) {
	var c Config
	err := json.Unmarshal([]byte(`{"type": "phishing"}`), &c)
	assert.ErrorIs(t, err, ErrUnknownJourneyType)
}

func TestConfigUnmarshalMissingPayload(t *testing.T) {
	var c Config
	err := json.Unmarshal([]byte(`{"type": "ad_hygiene"}`), &c)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestConfigRoundTrip(t *testing.T) {
	c := Config{
		Type: TypeEDRTesting,
		EDRTesting: &EDRTestingConfig{
			Scenarios: []string{"ransomware-sim", "credential-dump"},
		},
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var got Config
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, c, got)
}

func TestValidateTypeMismatch(t *testing.T) {
	c := Config{
		Type:      TypeADHygiene,
		ADHygiene: &ADHygieneConfig{Domain: "corp.example.com"},
	}
	assert.NoError(t, c.Validate(TypeADHygiene))
	assert.ErrorIs(t, c.Validate(TypeAttackSurface), ErrConfigMismatch)
}

func TestValidateAttackSurface(t *testing.T) {
	valid := func() *AttackSurfaceConfig {
		return &AttackSurfaceConfig{
			Targets:  []string{"192.0.2.10"},
			ScanType: scans.RouteExternal,
		}
	}

	c := Config{Type: TypeAttackSurface, AttackSurface: valid()}
	assert.NoError(t, c.Validate(TypeAttackSurface))

	c.AttackSurface = valid()
	c.AttackSurface.Targets = nil
	assert.Error(t, c.Validate(TypeAttackSurface))

	// Targets become argv elements; option-shaped strings are rejected.
	c.AttackSurface = valid()
	c.AttackSurface.Targets = []string{"-oN=/tmp/out"}
	assert.Error(t, c.Validate(TypeAttackSurface))

	c.AttackSurface = valid()
	c.AttackSurface.ScanType = "sideways"
	assert.Error(t, c.Validate(TypeAttackSurface))

	c.AttackSurface = valid()
	c.AttackSurface.PortRange = "80,443,8000-9000"
	assert.NoError(t, c.Validate(TypeAttackSurface))

	c.AttackSurface = valid()
	c.AttackSurface.PortRange = "80;rm"
	assert.Error(t, c.Validate(TypeAttackSurface))
}

func TestValidateEDRTesting(t *testing.T) {
	c := Config{Type: TypeEDRTesting, EDRTesting: &EDRTestingConfig{}}
	assert.Error(t, c.Validate(TypeEDRTesting))

	c.EDRTesting.Scenarios = []string{"ransomware-sim"}
	assert.NoError(t, c.Validate(TypeEDRTesting))
}

func TestValidTarget(t *testing.T) {
	for _, ok := range []string{"192.0.2.1", "2001:db8::1", "10.0.0.0/8", "host.example.com", "localhost"} {
		assert.True(t, validTarget(ok), ok)
	}
	for _, bad := range []string{"", "-flag", "host_name", "host..example", "a b"} {
		assert.False(t, validTarget(bad), bad)
	}
}
