// vaultctl is the operator tool for vaultd: key and token management,
// snapshot inspection, journal exports and a development ledger.
package main

import (
	"fmt"
	"os"

	cli "gopkg.in/urfave/cli.v1"
)

var version = "dev"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "vaultctl"
	app.Usage = "staking vault operator tool"
	app.Version = version
	app.Commands = []cli.Command{
		{
			Name:   "gen-key",
			Usage:  "generate a vault key and write it to an encrypted keystore",
			Flags:  []cli.Flag{keystoreFlag, lightScryptFlag, passphraseEnvFlag},
			Action: genKey,
		},
		{
			Name:   "issue-token",
			Usage:  "issue an HMAC signed caller token for the public API",
			Flags:  []cli.Flag{secretFlag, callerFlag, issuerFlag, audienceFlag, ttlFlag},
			Action: issueToken,
		},
		{
			Name:   "inspect-snapshot",
			Usage:  "verify a stored snapshot and print its totals",
			Flags:  []cli.Flag{backendFlag, pathFlag},
			Action: inspectSnapshot,
		},
		{
			Name:   "export-journal",
			Usage:  "export settlement attempts from the journal database",
			Flags:  []cli.Flag{driverFlag, dsnFlag, formatFlag, sinceFlag, outFlag},
			Action: exportJournal,
		},
		{
			Name:   "ledger-serve",
			Usage:  "serve an in-memory token ledger over JSON-RPC for development",
			Flags:  []cli.Flag{assetFlag, listenFlag, tokenFlag, mintFlag, approveFlag},
			Action: ledgerServe,
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
