package generation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Policy tunes one poller family.
type Policy struct {
	BaseInterval time.Duration `yaml:"base_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Growth       float64       `yaml:"growth"`
	ErrorGrowth  float64       `yaml:"error_growth"`

	// Image family: interval window while the provider reports active work.
	ActiveMinInterval time.Duration `yaml:"active_min_interval"`
	ActiveMaxInterval time.Duration `yaml:"active_max_interval"`

	// Image family: completed-without-asset handling.
	MissingAssetGrowth      float64       `yaml:"missing_asset_growth"`
	MissingAssetMaxInterval time.Duration `yaml:"missing_asset_max_interval"`
	MaxAssetWaitPolls       int           `yaml:"max_asset_wait_polls"`

	// Mesh family: upper bound of random jitter as a fraction of the interval.
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// Policies holds the per-family poller policies.
type Policies struct {
	Image Policy `yaml:"image"`
	Mesh  Policy `yaml:"mesh"`
}

// DefaultPolicies returns the production polling schedule.
func DefaultPolicies() Policies {
	return Policies{
		Image: Policy{
			BaseInterval:            5 * time.Second,
			MaxInterval:             30 * time.Second,
			MaxAttempts:             120,
			Growth:                  1.2,
			ErrorGrowth:             2,
			ActiveMinInterval:       5 * time.Second,
			ActiveMaxInterval:       10 * time.Second,
			MissingAssetGrowth:      1.5,
			MissingAssetMaxInterval: 10 * time.Second,
			MaxAssetWaitPolls:       24,
		},
		Mesh: Policy{
			BaseInterval:   3 * time.Second,
			MaxInterval:    30 * time.Second,
			MaxAttempts:    120,
			Growth:         1.2,
			ErrorGrowth:    2,
			JitterFraction: 0.1,
		},
	}
}

// LoadPolicies overlays the YAML file at path onto the defaults. An empty
// path yields the defaults.
func LoadPolicies(path string) (Policies, error) {
	policies := DefaultPolicies()
	if path == "" {
		return policies, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, fmt.Errorf("read poller policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policies); err != nil {
		return Policies{}, fmt.Errorf("decode poller policy: %w", err)
	}
	if err := policies.Image.validate("image"); err != nil {
		return Policies{}, err
	}
	if err := policies.Mesh.validate("mesh"); err != nil {
		return Policies{}, err
	}
	return policies, nil
}

func (p Policy) validate(name string) error {
	switch {
	case p.BaseInterval <= 0:
		return fmt.Errorf("%s policy: base_interval must be positive", name)
	case p.MaxInterval < p.BaseInterval:
		return fmt.Errorf("%s policy: max_interval must be >= base_interval", name)
	case p.MaxAttempts <= 0:
		return fmt.Errorf("%s policy: max_attempts must be positive", name)
	case p.Growth < 1 || p.ErrorGrowth < 1:
		return fmt.Errorf("%s policy: growth factors must be >= 1", name)
	case p.JitterFraction < 0 || p.JitterFraction > 1:
		return fmt.Errorf("%s policy: jitter_fraction must be within [0,1]", name)
	}
	return nil
}

func scale(d time.Duration, factor float64, ceiling time.Duration) time.Duration {
	next := time.Duration(float64(d) * factor)
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if lo > 0 && d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}
