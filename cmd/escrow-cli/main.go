package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv("ESCROW_RPC_TOKEN"))
	rpcTimeout   = 15 * time.Second

	rpcCall = callRPC
	cliNow  = time.Now
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "open":
		return runOpen(args[1:], stdout, stderr)
	case "confirm":
		return runConfirm(args[1:], stdout, stderr)
	case "cancel":
		return runTradeCall("escrow_cancelTrade", args[1:], stdout, stderr)
	case "withdraw":
		return runTradeCall("escrow_withdraw", args[1:], stdout, stderr)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "list":
		return runSellerQuery("escrow_listTrades", args[1:], stdout, stderr)
	case "count":
		return runSellerQuery("escrow_tradeCount", args[1:], stdout, stderr)
	case "pending":
		return runNoParams("escrow_pendingTrades", args[1:], stdout, stderr)
	case "check":
		return runNoParams("escrow_checkReleasable", args[1:], stdout, stderr)
	case "release":
		return runRelease(args[1:], stdout, stderr)
	case "custody":
		return runCustody(args[1:], stdout, stderr)
	case "audit":
		return runNoParams("escrow_audit", args[1:], stdout, stderr)
	case "info":
		return runNoParams("escrow_info", args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "approve":
		return runApprove(args[1:], stdout, stderr)
	case "transfer":
		return runTransfer(args[1:], stdout, stderr)
	case "mint":
		return runMint(args[1:], stdout, stderr)
	case "tokens":
		return runNoParams("bank_tokens", args[1:], stdout, stderr)
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "token":
		return runIssueToken(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] [--token JWT] <command> [flags]

Trades:
  open      Open a trade as seller and lock collateral
  confirm   Confirm a trade as buyer and lock payment
  cancel    Cancel an unconfirmed trade and refund the seller
  withdraw  Withdraw the counter-asset of a released trade
  get       Fetch a trade by seller and index
  list      List every trade opened by a seller
  count     Count the trades opened by a seller
  pending   List trades awaiting release

Keeper:
  check     Report whether any trade is releasable
  release   Release trades named by a keeper payload
  custody   Show custody totals, optionally for one seller
  audit     Compare custody against the vault balance
  info      Show vault, release mode and limits

Bank:
  balance   Show an account balance
  approve   Approve a spender (the vault by default)
  transfer  Transfer assets between accounts
  mint      Mint devnet assets from the faucet
  tokens    List registered assets

Keys:
  keygen    Create a signer keystore
  token     Issue an RPC bearer token for a signer
`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("ESCROW_RPC_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8090"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			setGlobal(arg[2:], args[i+1])
			i++
		case strings.HasPrefix(arg, "--rpc="):
			setGlobal("rpc", strings.TrimPrefix(arg, "--rpc="))
		case strings.HasPrefix(arg, "--token="):
			setGlobal("token", strings.TrimPrefix(arg, "--token="))
		default:
			// Global flags are only recognised before the command name.
			out = append(out, args[i:]...)
			return out, nil
		}
	}
	return out, nil
}

func setGlobal(name, value string) {
	if name == "rpc" {
		rpcEndpoint = strings.TrimSpace(value)
		return
	}
	rpcAuthToken = strings.TrimSpace(value)
}

func callRPC(method string, params interface{}) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func doRPCRequest(payload []byte) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	client := &http.Client{Timeout: rpcTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

// invoke performs the call and renders its outcome, returning the exit code.
func invoke(method string, params interface{}, stdout, stderr io.Writer) int {
	result, rpcErr, err := rpcCall(method, params)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "%s\n", rpcErr.Data)
		}
		return 1
	}
	writeRPCResult(stdout, result)
	return 0
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(result)
	}
	pretty.WriteByte('\n')
	_, _ = w.Write(pretty.Bytes())
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

// normalizeAmount expands shorthand such as 1.5e18 or 1_000 into a base-10
// integer string. Zero and negative amounts are rejected.
func normalizeAmount(flagName, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expValue, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		exponent = int(expValue)
	}
	base = strings.TrimPrefix(strings.TrimSpace(base), "+")
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("%s must be positive", flagName)
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid %s format", flagName)
	}
	fraction := ""
	if len(parts) == 2 {
		fraction = parts[1]
	}
	digits := parts[0] + fraction
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid %s format", flagName)
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fraction)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	if digits == "" {
		return "", fmt.Errorf("%s must be positive", flagName)
	}
	shift := exponent - fracLen
	if shift < 0 {
		return "", fmt.Errorf("%s must be an integer", flagName)
	}
	return digits + strings.Repeat("0", shift), nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseDuration accepts Go durations plus a day suffix such as 3d.
func parseDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasSuffix(trimmed, "d") || strings.HasSuffix(trimmed, "D") {
		days, err := strconv.ParseFloat(trimmed[:len(trimmed)-1], 64)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return dur, nil
}
