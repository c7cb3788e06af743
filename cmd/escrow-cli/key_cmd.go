package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"nhbescrow/cmd/internal/passphrase"
	"nhbescrow/crypto"
	"nhbescrow/rpc/middleware"
)

const passphraseEnv = "ESCROW_KEYSTORE_PASSPHRASE"

var newPassphraseSource = passphrase.NewConfirmingSource

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		out   string
		light bool
		force bool
	)
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.BoolVar(&light, "light", false, "use light scrypt parameters (devnets only)")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(out); err == nil && !force {
		return printError(stderr, fmt.Sprintf("%s already exists; pass --force to replace it", out))
	}

	secret, err := newPassphraseSource(passphraseEnv).Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	strength := crypto.KeystoreStandard
	if light {
		strength = crypto.KeystoreLight
	}
	if err := crypto.SaveToKeystoreWithStrength(out, key, secret, strength); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runIssueToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		keystorePath string
		address      string
		secretEnv    string
		issuer       string
		ttl          time.Duration
	)
	fs.StringVar(&keystorePath, "keystore", "", "signer keystore naming the caller")
	fs.StringVar(&address, "address", "", "caller bech32 address (instead of --keystore)")
	fs.StringVar(&secretEnv, "secret-env", "ESCROW_JWT_SECRET", "environment variable holding the HMAC secret")
	fs.StringVar(&issuer, "issuer", "nhb-escrow", "token issuer")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if !parseFlags(fs, args, stderr) {
		return 1
	}

	var (
		caller [20]byte
		err    error
	)
	switch {
	case keystorePath != "" && address != "":
		return printError(stderr, "use either --keystore or --address")
	case keystorePath != "":
		caller, err = crypto.KeystoreAddress(keystorePath)
	case address != "":
		caller, err = crypto.ParseAddress(address)
	default:
		return printError(stderr, "--keystore or --address is required")
	}
	if err != nil {
		return printError(stderr, err.Error())
	}

	secret := strings.TrimSpace(os.Getenv(secretEnv))
	if secret == "" {
		return printError(stderr, fmt.Sprintf("%s is not set", secretEnv))
	}
	token, err := middleware.IssueToken([]byte(secret), issuer, caller, ttl, cliNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}
