package archive

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nhbescrow/core"
	"nhbescrow/native/escrow"
	"nhbescrow/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreInsertAndFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	id, err := store.Insert(ctx, Record{
		Sequence:   1,
		Type:       escrow.EventTypeTradeOpened,
		Seller:     "nhb1seller",
		Index:      "0",
		Attributes: map[string]string{"index": "0"},
		CreatedAt:  base,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = store.Insert(ctx, Record{
		Sequence:   2,
		Type:       escrow.EventTypeTradeCanceled,
		Seller:     "nhb1seller",
		Index:      "0",
		Attributes: map[string]string{"index": "0", "status": "canceled"},
		CreatedAt:  base.Add(time.Second),
	})
	require.NoError(t, err)
	_, err = store.Insert(ctx, Record{Sequence: 3, Type: "bank.transfer", CreatedAt: base.Add(2 * time.Second)})
	require.NoError(t, err)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(3), all[0].Sequence)

	canceled, err := store.List(ctx, Filter{Type: escrow.EventTypeTradeCanceled})
	require.NoError(t, err)
	require.Len(t, canceled, 1)
	require.Equal(t, "canceled", canceled[0].Attributes["status"])

	bySeller, err := store.List(ctx, Filter{Seller: "nhb1seller", Limit: 1})
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	require.Equal(t, uint64(2), bySeller[0].Sequence)
}

func TestArchiverCopiesNodeNotifications(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.Options{
		Tokens:    []string{"USDC"},
		NowFunc:   func() int64 { return 1_700_000_000 },
		FaucetCap: big.NewInt(1_000),
	})
	require.NoError(t, err)
	store := openTestStore(t)
	archiver, err := NewArchiver(node, store, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- archiver.Run(ctx) }()

	seller := [20]byte{0x0a}
	require.NoError(t, node.Mint(context.Background(), seller, "NHB", big.NewInt(50)))
	_, err = node.OpenTrade(context.Background(), seller, big.NewInt(20), escrow.OpenParams{
		Buyer:         [20]byte{0x0b},
		AssetToSell:   "NHB",
		AssetToBuy:    "USDC",
		NativeToSell:  big.NewInt(20),
		FungibleToBuy: big.NewInt(5),
		Duration:      600,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		records, err := store.List(context.Background(), Filter{Type: escrow.EventTypeTradeOpened})
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestArchiverKeepsUpWithBurstOfWrites(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.Options{FaucetCap: big.NewInt(1_000)})
	require.NoError(t, err)
	store := openTestStore(t)
	archiver, err := NewArchiver(node, store, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- archiver.Run(ctx) }()

	from, to := [20]byte{0x0a}, [20]byte{0x0b}
	require.NoError(t, node.Mint(context.Background(), from, "NHB", big.NewInt(1_000)))
	const transfers = 500
	for i := 0; i < transfers; i++ {
		require.NoError(t, node.Transfer(context.Background(), from, to, "NHB", big.NewInt(1)))
	}

	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background())
		return err == nil && n == transfers
	}, 10*time.Second, 20*time.Millisecond)
	last, err := store.LastSequence(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(transfers), last)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

type scriptedRound struct {
	backlog []core.EventUpdate
	live    []core.EventUpdate
}

// scriptedSource hands out one scripted round per subscription and closes
// the live channel once the round is delivered.
type scriptedSource struct {
	mu      sync.Mutex
	cursors []string
	rounds  []scriptedRound
}

func (s *scriptedSource) Subscribe(_ context.Context, cursor string) (<-chan core.EventUpdate, func(), []core.EventUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = append(s.cursors, cursor)
	if len(s.rounds) == 0 {
		return nil, nil, nil, errors.New("no subscription scripted")
	}
	round := s.rounds[0]
	s.rounds = s.rounds[1:]
	ch := make(chan core.EventUpdate, len(round.live))
	for _, update := range round.live {
		ch <- update
	}
	close(ch)
	return ch, func() {}, round.backlog, nil
}

func scriptedUpdate(seq uint64) core.EventUpdate {
	return core.EventUpdate{
		Sequence:   seq,
		Cursor:     strconv.FormatUint(seq, 10),
		Type:       "bank.transfer",
		Attributes: map[string]string{"asset": "NHB"},
		Timestamp:  1_700_000_000 + int64(seq),
	}
}

func TestArchiverResubscribesOnGap(t *testing.T) {
	store := openTestStore(t)
	source := &scriptedSource{rounds: []scriptedRound{
		{live: []core.EventUpdate{scriptedUpdate(1), scriptedUpdate(3)}},
		{
			backlog: []core.EventUpdate{scriptedUpdate(2), scriptedUpdate(3)},
			live:    []core.EventUpdate{scriptedUpdate(4)},
		},
	}}
	archiver, err := NewArchiver(source, store, nil)
	require.NoError(t, err)
	require.NoError(t, archiver.Run(context.Background()))

	require.Equal(t, []string{"", "1"}, source.cursors)
	records, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	sequences := make([]uint64, 0, len(records))
	for _, rec := range records {
		sequences = append(sequences, rec.Sequence)
	}
	require.Equal(t, []uint64{4, 3, 2, 1}, sequences)
}

func TestArchiverResumesFromStoredSequence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for seq := uint64(1); seq <= 4; seq++ {
		_, err := store.Insert(ctx, Record{Sequence: seq, Type: "bank.transfer", CreatedAt: time.Unix(1_700_000_000+int64(seq), 0).UTC()})
		require.NoError(t, err)
	}
	source := &scriptedSource{rounds: []scriptedRound{
		{backlog: []core.EventUpdate{scriptedUpdate(4), scriptedUpdate(7)}},
	}}
	archiver, err := NewArchiver(source, store, nil)
	require.NoError(t, err)
	require.NoError(t, archiver.Run(ctx))

	require.Equal(t, []string{"4"}, source.cursors)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	last, err := store.LastSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), last)

	_, err = store.Insert(ctx, Record{Sequence: 7, Type: "bank.transfer"})
	require.NoError(t, err)
	n, err = store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}
