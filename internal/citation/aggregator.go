// Package citation collects the source records attached to finalized
// answers, keeping them unique per session and persisting new ones.
package citation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/outbox"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

// Persister stores one citation record in the session metadata.
type Persister interface {
	UpdateMetadata(ctx context.Context, sessionID string, c model.Citation) error
}

// FailureFunc is called when a citation could not be persisted.
type FailureFunc func(sessionID string, c model.Citation, err error)

// Options configures an Aggregator. Every field is optional.
type Options struct {
	Persister Persister
	Outbox    outbox.Outbox
	Mail      MailSearcher
	OnFailure FailureFunc
}

// Aggregator is the citation set of the current session.
type Aggregator struct {
	opts   Options
	logger *logger.Logger

	mu   sync.Mutex
	seen map[model.CitationKey]struct{}
	list []model.Citation

	wg sync.WaitGroup
}

// New creates an empty aggregator.
func New(opts Options, log *logger.Logger) *Aggregator {
	if opts.Outbox == nil {
		opts.Outbox = outbox.Discard{}
	}
	return &Aggregator{
		opts:   opts,
		logger: logger.OrNop(log).Named("citation"),
		seen:   make(map[model.CitationKey]struct{}),
	}
}

// Observe adds c to the set unless a citation with the same subject and
// received_on is already there. A new citation is persisted in the
// background and, for Mail sources, handed to the mail searcher. It reports
// whether c was new.
func (a *Aggregator) Observe(ctx context.Context, sessionID string, c model.Citation) bool {
	if c.Source == "" {
		return false
	}

	a.mu.Lock()
	if _, dup := a.seen[c.Key()]; dup {
		a.mu.Unlock()
		metrics.CitationsObserved.WithLabelValues("duplicate").Inc()
		return false
	}
	c = c.Clone()
	a.seen[c.Key()] = struct{}{}
	a.list = append(a.list, c)
	a.mu.Unlock()

	metrics.CitationsObserved.WithLabelValues("added").Inc()

	// Background work outlives the caller's turn.
	bg := context.WithoutCancel(ctx)

	if a.opts.Persister != nil && sessionID != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.persist(bg, sessionID, c)
		}()
	}

	if q, ok := NewMailQuery(c); ok && a.opts.Mail != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.opts.Mail.SearchMail(bg, q); err != nil {
				a.logger.Warn("mail search failed", zap.String("query", q.String()), zap.Error(err))
			}
		}()
	}

	return true
}

func (a *Aggregator) persist(ctx context.Context, sessionID string, c model.Citation) {
	err := a.opts.Persister.UpdateMetadata(ctx, sessionID, c)
	if err == nil {
		return
	}

	metrics.PersistenceFailures.WithLabelValues("update_metadata").Inc()
	a.logger.Error("failed to persist citation",
		zap.String("session_id", sessionID),
		zap.String("subject", c.Subject),
		zap.Error(err),
	)
	if qerr := a.opts.Outbox.Enqueue(ctx, outbox.MetadataEntry(sessionID, c)); qerr != nil {
		a.logger.Error("failed to enqueue citation for retry", zap.Error(qerr))
	}
	if a.opts.OnFailure != nil {
		a.opts.OnFailure(sessionID, c, err)
	}
}

// Hydrate replaces the set with stored citations without persisting them.
// Duplicates in list are dropped.
func (a *Aggregator) Hydrate(list []model.Citation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen = make(map[model.CitationKey]struct{}, len(list))
	a.list = nil
	for _, c := range list {
		if _, dup := a.seen[c.Key()]; dup {
			continue
		}
		a.seen[c.Key()] = struct{}{}
		a.list = append(a.list, c.Clone())
	}
}

// Reset empties the set.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen = make(map[model.CitationKey]struct{})
	a.list = nil
}

// Citations returns a copy of the set in insertion order.
func (a *Aggregator) Citations() []model.Citation {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.Citation, len(a.list))
	for i, c := range a.list {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of citations.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.list)
}

// Wait blocks until background persistence and mail searches finish.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}
