// Package config parses the environment variables named in spec.md §6
// into an immutable Config, following the teacher's cmd/geth convention of
// driving configuration through urfave/cli flags with EnvVars set so the
// same flag can be supplied on the command line or the environment.
package config

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
)

type Config struct {
	Port                   string
	BlockBuilderURL        string
	L2RPCURL               string
	RollupContractAddress  string
	BlockBuilderPrivateKey string
	// BuilderAddress is derived from BlockBuilderPrivateKey (deriveAddress),
	// never taken from input directly — it is the one value spec.md's
	// block_builder_address refers to everywhere (fee-info, tx signing
	// payload, chain submission "from").
	BuilderAddress        string
	StoreVaultBaseURL     string
	ValidityProverBaseURL string
	RedisURL              string

	// EthAllowanceForBlock is the decimal-wei value attached to every
	// block-post transaction (cmd/blockbuilder converts it to the hex
	// "value" eth_sendTransaction expects via chain.RPCContract.WithEthAllowance).
	EthAllowanceForBlock string

	TxTimeout              time.Duration
	AcceptingTxInterval    time.Duration
	ProposingBlockInterval time.Duration
	DepositCheckInterval   time.Duration
	NonceWaitingTime       time.Duration
	RestartWaitInterval    time.Duration

	RegistrationFee                string
	NonRegistrationFee             string
	RegistrationCollateralFee      string
	NonRegistrationCollateralFee   string
	UseFee                         bool
	UseCollateral                  bool

	ClusterID string

	CORSAllowedOrigins []string

	FeeScheduleFile string // optional YAML layering fee amounts per token
}

// Flags is the urfave/cli flag set cmd/blockbuilder registers. Each flag's
// Name is the env var name in lower kebab-case per cli convention, its
// EnvVars entry is the spec.md §6 variable name verbatim.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "port", EnvVars: []string{"PORT"}, Value: "8080"},
		&cli.StringFlag{Name: "block-builder-url", EnvVars: []string{"BLOCK_BUILDER_URL"}},
		&cli.StringFlag{Name: "l2-rpc-url", EnvVars: []string{"L2_RPC_URL"}, Required: true},
		&cli.StringFlag{Name: "rollup-contract-address", EnvVars: []string{"ROLLUP_CONTRACT_ADDRESS"}, Required: true},
		&cli.StringFlag{Name: "block-builder-private-key", EnvVars: []string{"BLOCK_BUILDER_PRIVATE_KEY"}, Required: true},
		&cli.StringFlag{Name: "store-vault-server-base-url", EnvVars: []string{"STORE_VAULT_SERVER_BASE_URL"}, Required: true},
		&cli.StringFlag{Name: "validity-prover-base-url", EnvVars: []string{"VALIDITY_PROVER_BASE_URL"}, Required: true},
		&cli.StringFlag{Name: "redis-url", EnvVars: []string{"REDIS_URL"}, Required: true},
		&cli.StringFlag{Name: "eth-allowance-for-block", EnvVars: []string{"ETH_ALLOWANCE_FOR_BLOCK"}, Value: "0"},
		&cli.DurationFlag{Name: "tx-timeout", EnvVars: []string{"TX_TIMEOUT"}, Value: 10 * time.Second},
		&cli.DurationFlag{Name: "accepting-tx-interval", EnvVars: []string{"ACCEPTING_TX_INTERVAL"}, Value: 30 * time.Second},
		&cli.DurationFlag{Name: "proposing-block-interval", EnvVars: []string{"PROPOSING_BLOCK_INTERVAL"}, Value: 30 * time.Second},
		&cli.DurationFlag{Name: "deposit-check-interval", EnvVars: []string{"DEPOSIT_CHECK_INTERVAL"}, Value: 60 * time.Second},
		&cli.DurationFlag{Name: "nonce-waiting-time", EnvVars: []string{"NONCE_WAITING_TIME"}, Value: 5 * time.Second},
		&cli.DurationFlag{Name: "restart-wait-interval", EnvVars: []string{"RESTART_WAIT_INTERVAL"}, Value: 5 * time.Second},
		&cli.StringFlag{Name: "registration-fee", EnvVars: []string{"REGISTRATION_FEE"}},
		&cli.StringFlag{Name: "non-registration-fee", EnvVars: []string{"NON_REGISTRATION_FEE"}},
		&cli.StringFlag{Name: "registration-collateral-fee", EnvVars: []string{"REGISTRATION_COLLATERAL_FEE"}},
		&cli.StringFlag{Name: "non-registration-collateral-fee", EnvVars: []string{"NON_REGISTRATION_COLLATERAL_FEE"}},
		&cli.StringFlag{Name: "cluster-id", EnvVars: []string{"CLUSTER_ID"}, Value: "default"},
		&cli.StringSliceFlag{Name: "cors-allowed-origins", EnvVars: []string{"CORS_ALLOWED_ORIGINS"}, Value: cli.NewStringSlice("*")},
		&cli.StringFlag{Name: "fee-schedule-file", EnvVars: []string{"FEE_SCHEDULE_FILE"}},
	}
}

// FromCLI builds a Config from a populated cli.Context. Returns a Fatal
// error (spec.md §7) if required configuration is missing or malformed —
// the process must exit before serving traffic.
func FromCLI(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Port:                         c.String("port"),
		BlockBuilderURL:              c.String("block-builder-url"),
		L2RPCURL:                     c.String("l2-rpc-url"),
		RollupContractAddress:        c.String("rollup-contract-address"),
		BlockBuilderPrivateKey:       c.String("block-builder-private-key"),
		StoreVaultBaseURL:            c.String("store-vault-server-base-url"),
		ValidityProverBaseURL:        c.String("validity-prover-base-url"),
		RedisURL:                     c.String("redis-url"),
		EthAllowanceForBlock:         c.String("eth-allowance-for-block"),
		TxTimeout:                    c.Duration("tx-timeout"),
		AcceptingTxInterval:          c.Duration("accepting-tx-interval"),
		ProposingBlockInterval:       c.Duration("proposing-block-interval"),
		DepositCheckInterval:         c.Duration("deposit-check-interval"),
		NonceWaitingTime:             c.Duration("nonce-waiting-time"),
		RestartWaitInterval:          c.Duration("restart-wait-interval"),
		RegistrationFee:              c.String("registration-fee"),
		NonRegistrationFee:           c.String("non-registration-fee"),
		RegistrationCollateralFee:    c.String("registration-collateral-fee"),
		NonRegistrationCollateralFee: c.String("non-registration-collateral-fee"),
		ClusterID:                    c.String("cluster-id"),
		CORSAllowedOrigins:           c.StringSlice("cors-allowed-origins"),
		FeeScheduleFile:              c.String("fee-schedule-file"),
	}
	cfg.UseFee = cfg.RegistrationFee != "" || cfg.NonRegistrationFee != ""
	cfg.UseCollateral = cfg.RegistrationCollateralFee != "" || cfg.NonRegistrationCollateralFee != ""

	if cfg.L2RPCURL == "" || cfg.RollupContractAddress == "" {
		return nil, errs.Fatalf("config_missing_chain_settings", errMissingChainSettings)
	}

	addr, err := deriveAddress(cfg.BlockBuilderPrivateKey)
	if err != nil {
		return nil, errs.Fatalf("config_bad_private_key", err)
	}
	cfg.BuilderAddress = addr

	return cfg, nil
}

var errMissingChainSettings = configError("L2_RPC_URL and ROLLUP_CONTRACT_ADDRESS are required")

type configError string

func (e configError) Error() string { return string(e) }
