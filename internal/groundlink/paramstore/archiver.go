package paramstore

import (
	"context"
	"sync"
	"time"

	"github.com/autopeer-io/groundlink/internal/groundlink/bus"
	"github.com/autopeer-io/groundlink/pkg/log"
)

const (
	maxAttempts    = 3
	defaultBackoff = 300 * time.Millisecond
)

// SavingFlag is told when a snapshot write starts and ends.
type SavingFlag interface {
	SetSaving(ctx context.Context, saving bool) error
}

// Archiver writes every complete parameter set published on the bus to the
// store and, when configured, to the archive.
type Archiver struct {
	linkID  string
	store   Store
	archive Archive
	flag    SavingFlag
	logger  log.Logger

	// backoff is multiplied by the attempt number between retries.
	backoff time.Duration

	mu      sync.RWMutex
	lastKey string
	lastID  int64
}

// NewArchiver returns an Archiver. store, archive and flag may each be nil.
func NewArchiver(linkID string, store Store, archive Archive, flag SavingFlag, logger log.Logger) *Archiver {
	return &Archiver{
		linkID:  linkID,
		store:   store,
		archive: archive,
		flag:    flag,
		logger:  log.OrStd(logger).WithName("archiver"),
		backoff: defaultBackoff,
	}
}

// Run consumes parameter events from sub until ctx is done or the bus
// closes. sub must be subscribed to bus.TopicParameters.
func (a *Archiver) Run(ctx context.Context, sub bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			ev, ok := msg.(bus.ParametersEvent)
			if !ok {
				continue
			}
			a.Save(ctx, Snapshot{LinkID: a.linkID, ReceivedAt: ev.At, Values: ev.Values})
		}
	}
}

// Save writes s to the store and the archive, retrying each up to three times.
func (a *Archiver) Save(ctx context.Context, s Snapshot) {
	a.setSaving(ctx, true)
	defer a.setSaving(context.WithoutCancel(ctx), false)

	if a.store != nil {
		a.retry(ctx, "store", func(ctx context.Context) error {
			id, err := a.store.Save(ctx, s)
			if err == nil {
				a.mu.Lock()
				a.lastID = id
				a.mu.Unlock()
			}
			return err
		})
	}
	if a.archive != nil {
		a.retry(ctx, "archive", func(ctx context.Context) error {
			key, err := a.archive.Put(ctx, s)
			if err == nil {
				a.mu.Lock()
				a.lastKey = key
				a.mu.Unlock()
			}
			return err
		})
	}
}

// LastKey returns the object key of the newest archived snapshot.
func (a *Archiver) LastKey() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastKey
}

// LastID returns the store id of the newest stored snapshot.
func (a *Archiver) LastID() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastID
}

func (a *Archiver) retry(ctx context.Context, name string, fn func(context.Context) error) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return true
		}
		a.logger.Error(err, "Parameter snapshot write failed", "target", name, "attempt", attempt)
		if attempt == maxAttempts {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempt) * a.backoff):
		}
	}
	return false
}

func (a *Archiver) setSaving(ctx context.Context, saving bool) {
	if a.flag == nil {
		return
	}
	if err := a.flag.SetSaving(ctx, saving); err != nil {
		a.logger.Debug("Saving flag not delivered", "saving", saving, "error", err)
	}
}
