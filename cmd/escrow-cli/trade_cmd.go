package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

func runOpen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("open", stderr)
	var (
		caller         string
		buyer          string
		assetSell      string
		assetBuy       string
		nativeSell     string
		fungibleSell   string
		nativeBuy      string
		fungibleBuy    string
		value          string
		durationString string
	)
	fs.StringVar(&caller, "caller", "", "seller address (omit when the token names the caller)")
	fs.StringVar(&buyer, "buyer", "", "counterparty bech32 address")
	fs.StringVar(&assetSell, "asset-sell", "", "fungible asset symbol offered by the seller")
	fs.StringVar(&assetBuy, "asset-buy", "", "fungible asset symbol expected from the buyer")
	fs.StringVar(&nativeSell, "native-sell", "", "native NHB offered by the seller")
	fs.StringVar(&fungibleSell, "fungible-sell", "", "amount of --asset-sell offered")
	fs.StringVar(&nativeBuy, "native-buy", "", "native NHB expected from the buyer")
	fs.StringVar(&fungibleBuy, "fungible-buy", "", "amount of --asset-buy expected")
	fs.StringVar(&value, "value", "", "native value attached to the call (defaults to --native-sell)")
	fs.StringVar(&durationString, "duration", "", "time until release, e.g. 90m or 3d")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(buyer) == "" {
		return printError(stderr, "--buyer is required")
	}
	if strings.TrimSpace(durationString) == "" {
		return printError(stderr, "--duration is required")
	}
	dur, err := parseDuration(durationString)
	if err != nil {
		return printError(stderr, err.Error())
	}

	params := map[string]interface{}{
		"buyer":           buyer,
		"assetToSell":     strings.ToUpper(strings.TrimSpace(assetSell)),
		"assetToBuy":      strings.ToUpper(strings.TrimSpace(assetBuy)),
		"durationSeconds": int64(dur.Seconds()),
	}
	if caller != "" {
		params["caller"] = caller
	}
	amounts := []struct {
		flag, key, raw string
	}{
		{"--native-sell", "nativeToSell", nativeSell},
		{"--fungible-sell", "fungibleToSell", fungibleSell},
		{"--native-buy", "nativeToBuy", nativeBuy},
		{"--fungible-buy", "fungibleToBuy", fungibleBuy},
		{"--value", "value", value},
	}
	for _, amount := range amounts {
		if strings.TrimSpace(amount.raw) == "" {
			continue
		}
		normalized, err := normalizeAmount(amount.flag, amount.raw)
		if err != nil {
			return printError(stderr, err.Error())
		}
		params[amount.key] = normalized
	}
	if _, ok := params["value"]; !ok {
		if native, ok := params["nativeToSell"]; ok {
			params["value"] = native
		}
	}
	if _, ok := params["fungibleToSell"]; ok && params["assetToSell"] == "" {
		return printError(stderr, "--asset-sell is required with --fungible-sell")
	}
	if _, ok := params["fungibleToBuy"]; ok && params["assetToBuy"] == "" {
		return printError(stderr, "--asset-buy is required with --fungible-buy")
	}
	return invoke("escrow_openTrade", params, stdout, stderr)
}

func runConfirm(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("confirm", stderr)
	var (
		caller string
		seller string
		index  uint64
		value  string
	)
	fs.StringVar(&caller, "caller", "", "buyer address (omit when the token names the caller)")
	fs.StringVar(&seller, "seller", "", "seller bech32 address")
	fs.Uint64Var(&index, "index", 0, "trade index within the seller's list")
	fs.StringVar(&value, "value", "", "native NHB attached as payment")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(seller) == "" {
		return printError(stderr, "--seller is required")
	}
	params := map[string]interface{}{"seller": seller, "index": index}
	if caller != "" {
		params["caller"] = caller
	}
	if strings.TrimSpace(value) != "" {
		normalized, err := normalizeAmount("--value", value)
		if err != nil {
			return printError(stderr, err.Error())
		}
		params["value"] = normalized
	}
	return invoke("escrow_confirmTrade", params, stdout, stderr)
}

// runTradeCall handles seller-indexed calls where the caller owns the trade.
func runTradeCall(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr)
	var (
		caller string
		index  uint64
	)
	fs.StringVar(&caller, "caller", "", "trade owner address (omit when the token names the caller)")
	fs.Uint64Var(&index, "index", 0, "trade index")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]interface{}{"index": index}
	if caller != "" {
		params["caller"] = caller
	}
	return invoke(method, params, stdout, stderr)
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var (
		seller string
		index  uint64
	)
	fs.StringVar(&seller, "seller", "", "seller bech32 address")
	fs.Uint64Var(&index, "index", 0, "trade index")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(seller) == "" {
		return printError(stderr, "--seller is required")
	}
	return invoke("escrow_getTrade", map[string]interface{}{"seller": seller, "index": index}, stdout, stderr)
}

func runSellerQuery(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr)
	var seller string
	fs.StringVar(&seller, "seller", "", "seller bech32 address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(seller) == "" {
		return printError(stderr, "--seller is required")
	}
	return invoke(method, map[string]interface{}{"seller": seller}, stdout, stderr)
}

func runNoParams(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return invoke(method, nil, stdout, stderr)
}

func runRelease(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("release", stderr)
	var (
		caller  string
		payload string
	)
	fs.StringVar(&caller, "caller", "", "keeper address (omit when the token names the caller)")
	fs.StringVar(&payload, "payload", "", "0x-prefixed payload from check; fetched when omitted")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(payload) == "" {
		fetched, code := fetchReleasePayload(stderr)
		if code != 0 {
			return code
		}
		if fetched == "" {
			fmt.Fprintln(stdout, "no trades to release")
			return 0
		}
		payload = fetched
	}
	params := map[string]interface{}{"payload": payload}
	if caller != "" {
		params["caller"] = caller
	}
	return invoke("escrow_performRelease", params, stdout, stderr)
}

func fetchReleasePayload(stderr io.Writer) (string, int) {
	result, rpcErr, err := rpcCall("escrow_checkReleasable", nil)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return "", 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return "", 1
	}
	var check struct {
		UpkeepNeeded bool   `json:"upkeepNeeded"`
		Payload      string `json:"payload"`
	}
	if err := json.Unmarshal(result, &check); err != nil {
		fmt.Fprintf(stderr, "Error: decode check result: %v\n", err)
		return "", 1
	}
	if !check.UpkeepNeeded {
		return "", 0
	}
	return check.Payload, 0
}

func runCustody(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("custody", stderr)
	var seller string
	fs.StringVar(&seller, "seller", "", "optional seller to report")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]interface{}{}
	if strings.TrimSpace(seller) != "" {
		params["seller"] = seller
	}
	return invoke("escrow_custody", params, stdout, stderr)
}
