package archive

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"nhbescrow/core"
	"nhbescrow/observability/metrics"
)

// Source delivers committed notifications. *core.Node implements it.
type Source interface {
	Subscribe(ctx context.Context, cursor string) (<-chan core.EventUpdate, func(), []core.EventUpdate, error)
}

// Archiver copies every notification from a Source into a Store, in sequence
// order.
type Archiver struct {
	source  Source
	store   *Store
	logger  *slog.Logger
	metrics *metrics.ArchiveMetrics
	last    uint64
}

func NewArchiver(source Source, store *Store, logger *slog.Logger) (*Archiver, error) {
	if source == nil || store == nil {
		return nil, errors.New("archive: source and store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:  source,
		store:   store,
		logger:  logger.With(slog.String("component", "archive")),
		metrics: metrics.Archive(),
	}, nil
}

var errSequenceGap = errors.New("archive: sequence gap")

// Run resumes after the highest archived sequence and stores updates until
// ctx is cancelled or the subscription closes. When the live stream skips a
// sequence the archiver resubscribes and fills the gap from the backlog.
func (a *Archiver) Run(ctx context.Context) error {
	last, err := a.store.LastSequence(ctx)
	if err != nil {
		return err
	}
	if last > a.last {
		a.last = last
	}
	for {
		err := a.follow(ctx)
		if !errors.Is(err, errSequenceGap) {
			return err
		}
		a.metrics.IncResync()
		a.logger.Debug("archive resubscribing", slog.Uint64("after", a.last))
	}
}

func (a *Archiver) follow(ctx context.Context) error {
	cursor := ""
	if a.last > 0 {
		cursor = strconv.FormatUint(a.last, 10)
	}
	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	updates, cancel, backlog, err := a.source.Subscribe(subCtx, cursor)
	if err != nil {
		return err
	}
	defer cancel()
	for _, update := range backlog {
		if update.Sequence <= a.last {
			continue
		}
		if missing := update.Sequence - a.last - 1; missing > 0 {
			// Older entries have left the stream history.
			a.metrics.AddSkipped(missing)
			a.logger.Warn("archive gap",
				slog.Uint64("from", a.last+1),
				slog.Uint64("to", update.Sequence-1))
		}
		if !a.record(ctx, update) {
			break
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			if update.Sequence <= a.last {
				continue
			}
			if update.Sequence > a.last+1 {
				return errSequenceGap
			}
			a.record(ctx, update)
		}
	}
}

// record stores update and reports whether it was written.
func (a *Archiver) record(ctx context.Context, update core.EventUpdate) bool {
	createdAt := time.Unix(update.Timestamp, 0).UTC()
	if update.Timestamp == 0 {
		createdAt = time.Now().UTC()
	}
	_, err := a.store.Insert(ctx, Record{
		Sequence:   update.Sequence,
		Type:       update.Type,
		Seller:     update.Attributes["seller"],
		Index:      update.Attributes["index"],
		Attributes: update.Attributes,
		CreatedAt:  createdAt,
	})
	if err != nil {
		a.metrics.IncError()
		a.logger.Warn("archive write failed",
			slog.Uint64("sequence", update.Sequence),
			slog.String("type", update.Type),
			slog.Any("error", err))
		return false
	}
	a.last = update.Sequence
	a.metrics.ObserveStored(update.Type)
	return true
}
