package escrow

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"nhbescrow/core/events"
	"nhbescrow/core/types"
	nativecommon "nhbescrow/native/common"
)

const moduleName = nativecommon.ModuleEscrow

type engineState interface {
	custodyState
	TokenExists(symbol string) bool
	EscrowTradeAppend(trade *Trade) (uint64, error)
	EscrowTradeGet(seller [20]byte, index uint64) (*Trade, bool, error)
	EscrowTradePut(trade *Trade) error
	EscrowTradeCount(seller [20]byte) (uint64, error)
	EscrowPendingAdd(ref TradeRef) error
	EscrowPendingRemove(ref TradeRef) error
	EscrowPendingList() ([]TradeRef, error)
	Snapshot() int
	RevertToSnapshot(id int)
}

// Bank is the settlement ledger the engine issues transfers against. Native
// currency uses the NativeAsset symbol. Every method is treated as fallible.
type Bank interface {
	Balance(addr [20]byte, asset string) (*big.Int, error)
	Allowance(owner, spender [20]byte, asset string) (*big.Int, error)
	// TransferFrom pulls amount from `from` on behalf of spender.
	TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error
	// Transfer pushes amount held by `from` to `to`.
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
}

// Call carries the caller of record and the native value attached to the call.
// The host moves Value into the engine vault before the engine runs.
type Call struct {
	Caller [20]byte
	Value  *big.Int
}

// OpenParams are the seller-supplied terms of a new trade.
type OpenParams struct {
	Buyer          [20]byte
	AssetToSell    string
	AssetToBuy     string
	NativeToSell   *big.Int
	FungibleToSell *big.Int
	NativeToBuy    *big.Int
	FungibleToBuy  *big.Int
	Duration       int64
}

// ReleaseMode selects how expired collateral goes back to the seller.
type ReleaseMode string

const (
	// ReleaseAuto returns collateral inside PerformRelease.
	ReleaseAuto ReleaseMode = "auto"
	// ReleaseWithdraw flags the trade and waits for the seller to Withdraw.
	ReleaseWithdraw ReleaseMode = "withdraw"
)

// ParseReleaseMode maps a configuration string onto a ReleaseMode.
func ParseReleaseMode(raw string) (ReleaseMode, error) {
	switch ReleaseMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ReleaseAuto:
		return ReleaseAuto, nil
	case ReleaseWithdraw:
		return ReleaseWithdraw, nil
	default:
		return "", fmt.Errorf("escrow: unsupported release mode %q", raw)
	}
}

// Limits bounds trade durations and keeper batches.
type Limits struct {
	MinDuration int64
	MaxDuration int64
	KeeperBatch int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MinDuration: 300,
		MaxDuration: 30 * 24 * 60 * 60,
		KeeperBatch: 25,
	}
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine is the escrow state machine. It is not safe for concurrent use: the
// host must serialise calls, and closing paths commit status and custody
// changes before issuing any transfer so re-entrant calls see the terminal
// status.
type Engine struct {
	state   engineState
	bank    Bank
	custody *CustodyLedger
	vault   [20]byte
	emitter events.Emitter
	nowFn   func() int64
	pauses  nativecommon.PauseView
	mode    ReleaseMode
	limits  Limits
}

// NewEngine creates an engine whose custody is held at vault.
func NewEngine(vault [20]byte) *Engine {
	return &Engine{
		vault:   vault,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		mode:    ReleaseAuto,
		limits:  DefaultLimits(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.custody = NewCustodyLedger(state)
}

// SetBank configures the settlement ledger.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetReleaseMode(mode ReleaseMode) { e.mode = mode }

// SetLimits replaces the duration window and keeper batch size. Zero fields
// fall back to the defaults.
func (e *Engine) SetLimits(limits Limits) {
	def := DefaultLimits()
	if limits.MinDuration <= 0 {
		limits.MinDuration = def.MinDuration
	}
	if limits.KeeperBatch <= 0 {
		limits.KeeperBatch = def.KeeperBatch
	}
	e.limits = limits
}

// Vault returns the address holding escrowed assets.
func (e *Engine) Vault() [20]byte { return e.vault }

// ReleaseMode returns the configured release variant.
func (e *Engine) ReleaseMode() ReleaseMode { return e.mode }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return nil
}

// OpenTrade validates the seller's terms, pulls the fungible collateral into
// custody, credits the custody ledger with the attached native amount and
// records a pending trade.
func (e *Engine) OpenTrade(call Call, p OpenParams) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	seller := call.Caller
	if seller == ([20]byte{}) || p.Buyer == ([20]byte{}) {
		return nil, fmt.Errorf("%w: seller and buyer required", ErrInvalidParty)
	}
	sellAsset, err := e.tradeAsset(p.AssetToSell)
	if err != nil {
		return nil, err
	}
	buyAsset, err := e.tradeAsset(p.AssetToBuy)
	if err != nil {
		return nil, err
	}
	if sellAsset == buyAsset {
		return nil, ErrSameAsset
	}
	if seller == p.Buyer {
		return nil, ErrSelfTrade
	}
	nativeToSell := cloneBigInt(p.NativeToSell)
	fungibleToSell := cloneBigInt(p.FungibleToSell)
	nativeToBuy := cloneBigInt(p.NativeToBuy)
	fungibleToBuy := cloneBigInt(p.FungibleToBuy)
	for _, amount := range []*big.Int{nativeToSell, fungibleToSell, nativeToBuy, fungibleToBuy} {
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: amounts must be non-negative", ErrZeroAmount)
		}
	}
	if nativeToSell.Sign() == 0 && fungibleToSell.Sign() == 0 {
		return nil, fmt.Errorf("%w: nothing offered", ErrZeroAmount)
	}
	if nativeToBuy.Sign() == 0 && fungibleToBuy.Sign() == 0 {
		return nil, fmt.Errorf("%w: nothing requested", ErrZeroAmount)
	}
	now := e.now()
	if err := e.checkDuration(now, p.Duration); err != nil {
		return nil, err
	}
	if fungibleToSell.Sign() > 0 {
		balance, err := e.bank.Balance(seller, sellAsset)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(fungibleToSell) < 0 {
			return nil, fmt.Errorf("%w: seller holds %s %s, pledging %s", ErrInsufficientBalance, balance, sellAsset, fungibleToSell)
		}
	}
	if attached := cloneBigInt(call.Value); attached.Cmp(nativeToSell) != 0 {
		return nil, fmt.Errorf("%w: attached %s, pledged %s", ErrAmountMismatch, attached, nativeToSell)
	}

	trade := &Trade{
		Seller:         seller,
		Buyer:          p.Buyer,
		AssetToSell:    sellAsset,
		AssetToBuy:     buyAsset,
		NativeToSell:   nativeToSell,
		FungibleToSell: fungibleToSell,
		NativeToBuy:    nativeToBuy,
		FungibleToBuy:  fungibleToBuy,
		Deadline:       now + p.Duration,
		CreatedAt:      now,
		Status:         TradePending,
	}
	snap := e.state.Snapshot()
	if err := e.recordOpen(trade); err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}
	e.emit(NewTradeOpenedEvent(trade))
	return trade.Clone(), nil
}

// Deposits are pulled before the trade exists so nothing can be released
// against collateral that has not arrived.
func (e *Engine) recordOpen(trade *Trade) error {
	if err := e.pull(trade.AssetToSell, trade.Seller, e.vault, trade.FungibleToSell); err != nil {
		return err
	}
	if err := e.custody.Credit(trade.Seller, trade.NativeToSell); err != nil {
		return err
	}
	index, err := e.state.EscrowTradeAppend(trade)
	if err != nil {
		return err
	}
	trade.Index = index
	return e.state.EscrowPendingAdd(trade.Ref())
}

// ConfirmTrade settles a pending trade. Only the named buyer may call it, with
// exactly NativeToBuy attached and FungibleToBuy approved to the vault. Buy-side
// proceeds go to the seller and the seller's collateral goes to the buyer; if
// any leg fails nothing is applied.
func (e *Engine) ConfirmTrade(call Call, seller [20]byte, index uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	trade, err := e.loadTrade(seller, index)
	if err != nil {
		return err
	}
	if call.Caller != trade.Buyer {
		return fmt.Errorf("%w: only the buyer may confirm", ErrUnauthorized)
	}
	if trade.Status != TradePending {
		return fmt.Errorf("%w: status %s", ErrNotPending, trade.Status)
	}
	now := e.now()
	if now > trade.Deadline {
		return ErrExpired
	}
	if trade.FungibleToBuy.Sign() > 0 {
		allowance, err := e.bank.Allowance(trade.Buyer, e.vault, trade.AssetToBuy)
		if err != nil {
			return err
		}
		if allowance.Cmp(trade.FungibleToBuy) < 0 {
			return fmt.Errorf("%w: approved %s %s, need %s", ErrInsufficientAllowance, allowance, trade.AssetToBuy, trade.FungibleToBuy)
		}
		balance, err := e.bank.Balance(trade.Buyer, trade.AssetToBuy)
		if err != nil {
			return err
		}
		if balance.Cmp(trade.FungibleToBuy) < 0 {
			return fmt.Errorf("%w: buyer holds %s %s, need %s", ErrInsufficientBalance, balance, trade.AssetToBuy, trade.FungibleToBuy)
		}
	}
	if attached := cloneBigInt(call.Value); attached.Cmp(trade.NativeToBuy) != 0 {
		return fmt.Errorf("%w: attached %s, expected %s", ErrAmountMismatch, attached, trade.NativeToBuy)
	}
	if err := e.ensureCustody(trade, call.Value); err != nil {
		return err
	}

	snap := e.state.Snapshot()
	if err := e.settle(trade, now); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	e.emit(NewTradeConfirmedEvent(trade))
	return nil
}

func (e *Engine) settle(trade *Trade, now int64) error {
	if err := e.close(trade, TradeConfirmed, now, true); err != nil {
		return err
	}
	if err := e.pull(trade.AssetToBuy, trade.Buyer, trade.Seller, trade.FungibleToBuy); err != nil {
		return err
	}
	if err := e.push(NativeAsset, trade.Seller, trade.NativeToBuy); err != nil {
		return err
	}
	return e.returnCollateral(trade, trade.Buyer)
}

// CancelTrade closes the caller's own pending trade before its deadline and
// returns the pledged collateral.
func (e *Engine) CancelTrade(call Call, index uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := requireNoValue(call); err != nil {
		return err
	}
	trade, err := e.loadTrade(call.Caller, index)
	if err != nil {
		return err
	}
	if trade.Status != TradePending {
		return fmt.Errorf("%w: status %s", ErrNotPending, trade.Status)
	}
	now := e.now()
	if now > trade.Deadline {
		return ErrExpired
	}
	if err := e.ensureCustody(trade, nil); err != nil {
		return err
	}
	snap := e.state.Snapshot()
	if err := e.refund(trade, TradeCanceled, now, true); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	e.emit(NewTradeCanceledEvent(trade))
	return nil
}

// refund commits the closing status first and only then pushes the collateral
// back to the seller.
func (e *Engine) refund(trade *Trade, status TradeStatus, now int64, dropPending bool) error {
	if err := e.close(trade, status, now, dropPending); err != nil {
		return err
	}
	return e.returnCollateral(trade, trade.Seller)
}

func (e *Engine) close(trade *Trade, status TradeStatus, now int64, dropPending bool) error {
	trade.Status = status
	trade.ClosedAt = now
	if err := e.state.EscrowTradePut(trade); err != nil {
		return err
	}
	if dropPending {
		if err := e.state.EscrowPendingRemove(trade.Ref()); err != nil {
			return err
		}
	}
	return e.custody.Debit(trade.Seller, trade.NativeToSell)
}

func (e *Engine) returnCollateral(trade *Trade, to [20]byte) error {
	if err := e.push(trade.AssetToSell, to, trade.FungibleToSell); err != nil {
		return err
	}
	return e.push(NativeAsset, to, trade.NativeToSell)
}

// ensureCustody rejects a release when either the vault or the seller's
// custody entry is below what the trade pledged. attached is native value the
// current call already moved into the vault; it is owed elsewhere and does
// not count toward the seller's collateral.
func (e *Engine) ensureCustody(trade *Trade, attached *big.Int) error {
	if trade.NativeToSell.Sign() > 0 {
		holdings, err := e.bank.Balance(e.vault, NativeAsset)
		if err != nil {
			return err
		}
		if attached != nil && attached.Sign() > 0 {
			holdings = new(big.Int).Sub(holdings, attached)
		}
		if holdings.Cmp(trade.NativeToSell) < 0 {
			return fmt.Errorf("%w: vault holds %s %s, trade pledged %s", ErrCustodyShortfall, holdings, NativeAsset, trade.NativeToSell)
		}
		ledger, err := e.custody.Balance(trade.Seller)
		if err != nil {
			return err
		}
		if ledger.Cmp(trade.NativeToSell) < 0 {
			return fmt.Errorf("%w: ledger holds %s for seller, trade pledged %s", ErrCustodyShortfall, ledger, trade.NativeToSell)
		}
	}
	if trade.FungibleToSell.Sign() > 0 {
		holdings, err := e.bank.Balance(e.vault, trade.AssetToSell)
		if err != nil {
			return err
		}
		if holdings.Cmp(trade.FungibleToSell) < 0 {
			return fmt.Errorf("%w: vault holds %s %s, trade pledged %s", ErrCustodyShortfall, holdings, trade.AssetToSell, trade.FungibleToSell)
		}
	}
	return nil
}

func (e *Engine) pull(asset string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.bank.TransferFrom(asset, e.vault, from, to, amount); err != nil {
		return fmt.Errorf("%w: pull %s %s: %w", ErrTransferFailed, amount, asset, err)
	}
	return nil
}

func (e *Engine) push(asset string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.bank.Transfer(asset, e.vault, to, amount); err != nil {
		return fmt.Errorf("%w: push %s %s: %w", ErrTransferFailed, amount, asset, err)
	}
	return nil
}

func (e *Engine) tradeAsset(symbol string) (string, error) {
	normalized, err := NormalizeAsset(symbol)
	if err != nil {
		return "", err
	}
	if !e.state.TokenExists(normalized) {
		return "", fmt.Errorf("%w: unknown asset %s", ErrInvalidParty, normalized)
	}
	return normalized, nil
}

func (e *Engine) checkDuration(now, duration int64) error {
	if duration < e.limits.MinDuration {
		return fmt.Errorf("%w: %ds is below the %ds minimum", ErrInvalidDuration, duration, e.limits.MinDuration)
	}
	if e.limits.MaxDuration > 0 && duration > e.limits.MaxDuration {
		return fmt.Errorf("%w: %ds exceeds the %ds maximum", ErrInvalidDuration, duration, e.limits.MaxDuration)
	}
	if duration > math.MaxInt64-now {
		return fmt.Errorf("%w: deadline overflows", ErrInvalidDuration)
	}
	return nil
}

func requireNoValue(call Call) error {
	if call.Value != nil && call.Value.Sign() != 0 {
		return fmt.Errorf("%w: call does not accept native value", ErrAmountMismatch)
	}
	return nil
}

func (e *Engine) loadTrade(seller [20]byte, index uint64) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	trade, ok, err := e.state.EscrowTradeGet(seller, index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTradeNotFound
	}
	return SanitizeTrade(trade)
}
