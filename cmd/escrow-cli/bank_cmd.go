package main

import (
	"io"
	"strings"
)

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var (
		address string
		asset   string
	)
	fs.StringVar(&address, "address", "", "account bech32 address")
	fs.StringVar(&asset, "asset", "NHB", "asset symbol")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(address) == "" {
		return printError(stderr, "--address is required")
	}
	params := map[string]interface{}{
		"address": address,
		"asset":   strings.ToUpper(strings.TrimSpace(asset)),
	}
	return invoke("bank_balance", params, stdout, stderr)
}

func runApprove(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("approve", stderr)
	var (
		caller  string
		spender string
		asset   string
		amount  string
	)
	fs.StringVar(&caller, "caller", "", "owner address (omit when the token names the caller)")
	fs.StringVar(&spender, "spender", "", "spender address (defaults to the escrow vault)")
	fs.StringVar(&asset, "asset", "", "fungible asset symbol")
	fs.StringVar(&amount, "amount", "", "allowance to grant")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(asset) == "" {
		return printError(stderr, "--asset is required")
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"asset":  strings.ToUpper(strings.TrimSpace(asset)),
		"amount": normalized,
	}
	if caller != "" {
		params["caller"] = caller
	}
	if spender != "" {
		params["spender"] = spender
	}
	return invoke("bank_approve", params, stdout, stderr)
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	var (
		caller string
		to     string
		asset  string
		amount string
	)
	fs.StringVar(&caller, "caller", "", "sender address (omit when the token names the caller)")
	fs.StringVar(&to, "to", "", "recipient bech32 address")
	fs.StringVar(&asset, "asset", "NHB", "asset symbol")
	fs.StringVar(&amount, "amount", "", "amount to transfer")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(to) == "" {
		return printError(stderr, "--to is required")
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"to":     to,
		"asset":  strings.ToUpper(strings.TrimSpace(asset)),
		"amount": normalized,
	}
	if caller != "" {
		params["caller"] = caller
	}
	return invoke("bank_transfer", params, stdout, stderr)
}

func runMint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr)
	var (
		to     string
		asset  string
		amount string
	)
	fs.StringVar(&to, "to", "", "recipient bech32 address")
	fs.StringVar(&asset, "asset", "NHB", "asset symbol")
	fs.StringVar(&amount, "amount", "", "amount to mint")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(to) == "" {
		return printError(stderr, "--to is required")
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"to":     to,
		"asset":  strings.ToUpper(strings.TrimSpace(asset)),
		"amount": normalized,
	}
	return invoke("bank_mint", params, stdout, stderr)
}
