package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nhbescrow/core/events"
	nhbstate "nhbescrow/core/state"
	"nhbescrow/crypto"
	"nhbescrow/native/bank"
	nativecommon "nhbescrow/native/common"
	"nhbescrow/native/escrow"
	"nhbescrow/observability"
	telemetry "nhbescrow/observability/otel"
	"nhbescrow/storage"
)

var (
	// ErrFaucetDisabled is returned by Mint when the node runs without a faucet.
	ErrFaucetDisabled = errors.New("faucet disabled")
	// ErrFaucetCap is returned when a faucet request exceeds the configured cap.
	ErrFaucetCap = errors.New("faucet request above cap")
	// ErrAuditFailed signals that the custody ledger total exceeds the vault's
	// native holdings.
	ErrAuditFailed = errors.New("custody audit failed")
)

// DefaultVaultAddress is the vault used when none is configured.
var DefaultVaultAddress = crypto.DeriveAddress("nhb/escrow/vault")

// Options configures a Node.
type Options struct {
	Vault       [20]byte
	ReleaseMode escrow.ReleaseMode
	Limits      escrow.Limits
	Tokens      []string
	Pauses      nativecommon.PauseView
	Logger      *slog.Logger
	NowFunc     func() int64
	// FaucetCap enables Mint when non-nil.
	FaucetCap *big.Int
}

// Node is the central controller. It serialises every escrow and bank call,
// moves the native value attached to a call into the vault, commits state only
// when the call succeeds and publishes the call's notifications after commit.
type Node struct {
	db      storage.Database
	stateMu sync.Mutex
	state   *nhbstate.Manager
	bank    *bank.Ledger
	engine  *escrow.Engine
	buffer  *events.Buffer
	vault   [20]byte
	pauses  nativecommon.PauseView
	faucet  *big.Int
	logger  *slog.Logger
	metrics *observability.EscrowMetrics
	tracer  trace.Tracer

	streamMu      sync.Mutex
	streamSubs    map[uint64]chan EventUpdate
	streamSeq     uint64
	streamNextID  uint64
	streamHistory []EventUpdate
}

func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	vault := opts.Vault
	if vault == ([20]byte{}) {
		vault = DefaultVaultAddress
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := opts.ReleaseMode
	if mode == "" {
		mode = escrow.ReleaseAuto
	}

	manager := nhbstate.NewManager(db)
	if err := registerTokens(manager, opts.Tokens); err != nil {
		return nil, err
	}
	if err := manager.Commit(); err != nil {
		return nil, err
	}
	lastSeq, err := manager.StreamSequence()
	if err != nil {
		return nil, fmt.Errorf("node: load stream sequence: %w", err)
	}

	buffer := &events.Buffer{}
	ledger := bank.NewLedger(manager)
	ledger.SetEmitter(buffer)

	engine := escrow.NewEngine(vault)
	engine.SetState(manager)
	engine.SetBank(ledger)
	engine.SetEmitter(buffer)
	engine.SetPauses(opts.Pauses)
	engine.SetReleaseMode(mode)
	limits := opts.Limits
	if limits == (escrow.Limits{}) {
		limits = escrow.DefaultLimits()
	}
	engine.SetLimits(limits)
	if opts.NowFunc != nil {
		engine.SetNowFunc(opts.NowFunc)
	}

	n := &Node{
		db:      db,
		state:   manager,
		bank:    ledger,
		engine:  engine,
		buffer:  buffer,
		vault:   vault,
		pauses:  opts.Pauses,
		logger:  logger.With(slog.String("component", "node")),
		metrics: observability.Escrow(),
		tracer:  telemetry.Tracer("nhbescrow/core"),

		streamSeq: lastSeq,
	}
	if opts.FaucetCap != nil {
		n.faucet = new(big.Int).Set(opts.FaucetCap)
	}
	n.logger.Info("escrow node ready",
		slog.String("vault", crypto.FormatAddress(vault)),
		slog.String("release_mode", string(mode)))
	return n, nil
}

func registerTokens(manager *nhbstate.Manager, tokens []string) error {
	symbols := append([]string{escrow.NativeAsset}, tokens...)
	for _, symbol := range symbols {
		normalized := strings.ToUpper(strings.TrimSpace(symbol))
		if normalized == "" || manager.TokenExists(normalized) {
			continue
		}
		if err := manager.RegisterToken(normalized, normalized, 18); err != nil {
			return fmt.Errorf("register token %s: %w", normalized, err)
		}
	}
	return nil
}

// Vault returns the address holding escrowed assets.
func (n *Node) Vault() [20]byte { return n.vault }

func (n *Node) ReleaseMode() escrow.ReleaseMode { return n.engine.ReleaseMode() }

// execute runs fn as one serialised unit. Attached native value is moved into
// the vault first; any failure discards every write made during the call.
func (n *Node) execute(ctx context.Context, op string, caller [20]byte, value *big.Int, fn func(call escrow.Call) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := n.tracer.Start(ctx, "escrow."+op, trace.WithAttributes(
		attribute.String("escrow.op", op),
		attribute.String("escrow.caller", crypto.FormatAddress(caller)),
	))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	started := time.Now()
	var updates []EventUpdate
	err := n.apply(caller, value, fn)
	if err == nil {
		updates, err = n.stageUpdates(n.buffer.Drain())
	}
	if err == nil {
		err = n.state.Commit()
	}
	if err != nil {
		n.state.Discard()
		n.buffer.Reset()
		kind := escrow.KindOf(err)
		n.metrics.ObserveCall(op, kind.String(), time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		level := slog.LevelDebug
		if kind == escrow.KindAccounting || kind == escrow.KindInternal {
			level = slog.LevelWarn
		}
		n.logger.Log(ctx, level, "escrow call rejected",
			slog.String("op", op),
			slog.String("caller", crypto.FormatAddress(caller)),
			slog.String("kind", kind.String()),
			slog.Any("error", err))
		return err
	}
	n.metrics.ObserveCall(op, "", time.Since(started))
	n.refreshGauges()
	n.publish(updates)
	return nil
}

func (n *Node) apply(caller [20]byte, value *big.Int, fn func(call escrow.Call) error) error {
	call := escrow.Call{Caller: caller, Value: big.NewInt(0)}
	if value != nil {
		if value.Sign() < 0 {
			return fmt.Errorf("%w: negative call value", escrow.ErrAmountMismatch)
		}
		call.Value = new(big.Int).Set(value)
	}
	if call.Value.Sign() > 0 {
		if err := n.bank.Transfer(escrow.NativeAsset, caller, n.vault, call.Value); err != nil {
			if errors.Is(err, bank.ErrInsufficientFunds) {
				return fmt.Errorf("%w: attach value: %w", escrow.ErrInsufficientBalance, err)
			}
			return err
		}
	}
	return fn(call)
}

func (n *Node) refreshGauges() {
	total, err := n.engine.CustodyTotal()
	if err != nil {
		return
	}
	pending, err := n.engine.PendingTrades()
	if err != nil {
		return
	}
	f, _ := new(big.Float).SetInt(total).Float64()
	n.metrics.SetCustody(f, len(pending))
}

// OpenTrade opens a trade for caller, who attaches value of native currency.
func (n *Node) OpenTrade(ctx context.Context, caller [20]byte, value *big.Int, params escrow.OpenParams) (*escrow.Trade, error) {
	var trade *escrow.Trade
	err := n.execute(ctx, "open", caller, value, func(call escrow.Call) error {
		var err error
		trade, err = n.engine.OpenTrade(call, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

func (n *Node) ConfirmTrade(ctx context.Context, caller [20]byte, value *big.Int, seller [20]byte, index uint64) error {
	return n.execute(ctx, "confirm", caller, value, func(call escrow.Call) error {
		return n.engine.ConfirmTrade(call, seller, index)
	})
}

func (n *Node) CancelTrade(ctx context.Context, caller [20]byte, value *big.Int, index uint64) error {
	return n.execute(ctx, "cancel", caller, value, func(call escrow.Call) error {
		return n.engine.CancelTrade(call, index)
	})
}

// CheckReleasable runs the keeper scan. The release-ready flags it may set in
// withdraw mode are committed like any other write.
func (n *Node) CheckReleasable(ctx context.Context) (bool, []byte, error) {
	var (
		ok      bool
		payload []byte
	)
	err := n.execute(ctx, "check_releasable", [20]byte{}, nil, func(escrow.Call) error {
		var err error
		ok, payload, err = n.engine.CheckReleasable()
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return ok, payload, nil
}

func (n *Node) PerformRelease(ctx context.Context, caller [20]byte, value *big.Int, payload []byte) ([]escrow.TradeRef, error) {
	var released []escrow.TradeRef
	err := n.execute(ctx, "perform_release", caller, value, func(call escrow.Call) error {
		var err error
		released, err = n.engine.PerformRelease(call, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.AddReleased(len(released))
	return released, nil
}

func (n *Node) Withdraw(ctx context.Context, caller [20]byte, value *big.Int, index uint64) error {
	return n.execute(ctx, "withdraw", caller, value, func(call escrow.Call) error {
		return n.engine.Withdraw(call, index)
	})
}

// Approve sets the allowance owner grants spender over asset.
func (n *Node) Approve(ctx context.Context, owner, spender [20]byte, asset string, amount *big.Int) error {
	return n.execute(ctx, "approve", owner, nil, func(escrow.Call) error {
		if err := nativecommon.Guard(n.pauses, nativecommon.ModuleBank); err != nil {
			return err
		}
		return n.bank.Approve(owner, spender, asset, amount)
	})
}

// Transfer moves caller's own funds.
func (n *Node) Transfer(ctx context.Context, from, to [20]byte, asset string, amount *big.Int) error {
	return n.execute(ctx, "transfer", from, nil, func(escrow.Call) error {
		if err := nativecommon.Guard(n.pauses, nativecommon.ModuleBank); err != nil {
			return err
		}
		return n.bank.Transfer(asset, from, to, amount)
	})
}

// Mint credits test funds when the faucet is enabled.
func (n *Node) Mint(ctx context.Context, to [20]byte, asset string, amount *big.Int) error {
	if n.faucet == nil {
		return ErrFaucetDisabled
	}
	if amount != nil && amount.Cmp(n.faucet) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrFaucetCap, amount, n.faucet)
	}
	return n.execute(ctx, "mint", to, nil, func(escrow.Call) error {
		return n.bank.Mint(to, asset, amount)
	})
}
