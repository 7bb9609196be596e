package main

import (
	"time"

	cli "gopkg.in/urfave/cli.v1"
)

var (
	keystoreFlag = cli.StringFlag{
		Name:  "keystore",
		Value: "vault.keystore",
		Usage: "path of the encrypted key file",
	}
	lightScryptFlag = cli.BoolFlag{
		Name:  "light-scrypt",
		Usage: "use light scrypt parameters (development only)",
	}
	passphraseEnvFlag = cli.StringFlag{
		Name:  "passphrase-env",
		Value: "VAULT_KEYSTORE_PASSPHRASE",
		Usage: "environment variable holding the keystore passphrase",
	}
	secretFlag = cli.StringFlag{
		Name:   "secret",
		Usage:  "HMAC secret shared with vaultd",
		EnvVar: "VAULTD_HMAC_SECRET",
	}
	callerFlag = cli.StringFlag{
		Name:  "caller",
		Usage: "caller address (bech32 or 0x hex)",
	}
	issuerFlag = cli.StringFlag{
		Name:  "issuer",
		Usage: "token issuer claim",
	}
	audienceFlag = cli.StringFlag{
		Name:  "audience",
		Usage: "token audience claim",
	}
	ttlFlag = cli.DurationFlag{
		Name:  "ttl",
		Value: time.Hour,
		Usage: "token lifetime",
	}
	backendFlag = cli.StringFlag{
		Name:  "backend",
		Value: "leveldb",
		Usage: "snapshot source (leveldb|bolt|file)",
	}
	pathFlag = cli.StringFlag{
		Name:  "path",
		Usage: "database directory, bolt file or snapshot file",
	}
	driverFlag = cli.StringFlag{
		Name:  "driver",
		Value: "sqlite",
		Usage: "journal database driver (postgres|sqlite)",
	}
	dsnFlag = cli.StringFlag{
		Name:   "dsn",
		Usage:  "journal database DSN",
		EnvVar: "VAULTD_JOURNAL_DSN",
	}
	formatFlag = cli.StringFlag{
		Name:  "format",
		Value: "csv",
		Usage: "export format (csv|jsonl|parquet)",
	}
	sinceFlag = cli.StringFlag{
		Name:  "since",
		Usage: "only export attempts at or after this RFC3339 time",
	}
	outFlag = cli.StringFlag{
		Name:  "out",
		Usage: "output file (defaults to stdout)",
	}
	assetFlag = cli.StringFlag{
		Name:  "asset",
		Usage: "asset address served by the ledger",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Value: "127.0.0.1:7100",
		Usage: "ledger listen address",
	}
	tokenFlag = cli.StringFlag{
		Name:  "token",
		Usage: "bearer token required by the ledger",
	}
	mintFlag = cli.StringSliceFlag{
		Name:  "mint",
		Usage: "initial balance as address=amount (repeatable)",
	}
	approveFlag = cli.StringFlag{
		Name:  "approve",
		Usage: "spender granted an unlimited allowance on every minted account",
	}
)
