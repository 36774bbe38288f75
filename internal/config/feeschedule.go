package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
)

// FeeTokenAmount is one token's fee amount in the published schedule,
// served verbatim by GET /fee-info.
type FeeTokenAmount struct {
	TokenIndex uint32 `json:"token_index" yaml:"token_index"`
	Amount     string `json:"amount" yaml:"amount"` // decimal string; precision matters more than native int width
}

// FeeSchedule is the builder's published fee schedule (SPEC_FULL.md §3
// DOMAIN addition): loaded once at startup from FeeScheduleFile, which
// replaces the env-var fees entirely when set; with no file it is built
// from the REGISTRATION_FEE/NON_REGISTRATION_FEE single-token env vars.
type FeeSchedule struct {
	Version                      string           `json:"version" yaml:"version"`
	Beneficiary                  string           `json:"beneficiary" yaml:"beneficiary"`
	RegistrationFee              []FeeTokenAmount `json:"registration_fee" yaml:"registration_fee"`
	NonRegistrationFee           []FeeTokenAmount `json:"non_registration_fee" yaml:"non_registration_fee"`
	RegistrationCollateralFee    []FeeTokenAmount `json:"registration_collateral_fee,omitempty" yaml:"registration_collateral_fee,omitempty"`
	NonRegistrationCollateralFee []FeeTokenAmount `json:"non_registration_collateral_fee,omitempty" yaml:"non_registration_collateral_fee,omitempty"`
}

// LoadFeeSchedule builds the fee schedule the builder serves from
// GET /fee-info: FeeScheduleFile, if set, is read as YAML and takes
// precedence; otherwise the single-token env-var fees populate a
// one-entry schedule for each domain.
func (c *Config) LoadFeeSchedule() (*FeeSchedule, error) {
	if c.FeeScheduleFile != "" {
		data, err := os.ReadFile(c.FeeScheduleFile)
		if err != nil {
			return nil, errs.Fatalf("config_fee_schedule_read", err)
		}
		var fs FeeSchedule
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return nil, errs.Fatalf("config_fee_schedule_parse", err)
		}
		return &fs, nil
	}

	fs := &FeeSchedule{Version: "1", Beneficiary: c.BlockBuilderURL}
	if c.RegistrationFee != "" {
		fs.RegistrationFee = []FeeTokenAmount{{TokenIndex: 0, Amount: c.RegistrationFee}}
	}
	if c.NonRegistrationFee != "" {
		fs.NonRegistrationFee = []FeeTokenAmount{{TokenIndex: 0, Amount: c.NonRegistrationFee}}
	}
	if c.RegistrationCollateralFee != "" {
		fs.RegistrationCollateralFee = []FeeTokenAmount{{TokenIndex: 0, Amount: c.RegistrationCollateralFee}}
	}
	if c.NonRegistrationCollateralFee != "" {
		fs.NonRegistrationCollateralFee = []FeeTokenAmount{{TokenIndex: 0, Amount: c.NonRegistrationCollateralFee}}
	}
	return fs, nil
}
