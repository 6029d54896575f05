package syncview

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
)

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// View keeps a consistent local copy of one proposal: its state, tally and
// message history. Live messages and fetched history are reconciled by id and
// kept sorted by (created_at, id).
type View struct {
	source     Source
	proposalID uuid.UUID
	pageSize   int
	onChange   func()
	logg       *logger.Logger

	mu       sync.RWMutex
	detail   *proposals.ProposalDetail
	messages []discussion.MessageDTO
	seen     map[uuid.UUID]struct{}
	sub      Subscription
	listing  bool
	pending  []discussion.MessageDTO
	closed   bool
}

// Params groups view dependencies.
type Params struct {
	Source     Source
	ProposalID uuid.UUID
	// PageSize is the history page size used while listing; zero uses the default.
	PageSize int
	// OnChange, when set, is called after any local state changes.
	OnChange func()
	Logger   *logger.Logger
}

// New builds an unstarted view.
func New(params Params) (*View, error) {
	if params.Source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source required")
	}
	if params.ProposalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal id required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	return &View{
		source:     params.Source,
		proposalID: params.ProposalID,
		pageSize:   pagination.NormalizeLimit(params.PageSize),
		onChange:   params.OnChange,
		logg:       params.Logger,
		seen:       make(map[uuid.UUID]struct{}),
	}, nil
}

// Start subscribes to live messages, then loads the snapshot and the full
// history. Subscribing first means nothing posted while loading is missed.
// ctx bounds the lifetime of the subscription.
func (v *View) Start(ctx context.Context) error {
	if err := v.subscribe(ctx); err != nil {
		return err
	}
	if err := v.Refresh(ctx); err != nil {
		_ = v.Close()
		return err
	}
	if err := v.reloadHistory(ctx); err != nil {
		_ = v.Close()
		return err
	}
	return nil
}

// Refresh re-fetches proposal state and tally, typically after a vote.
func (v *View) Refresh(ctx context.Context) error {
	detail, err := v.source.Snapshot(ctx, v.proposalID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.detail = detail
	v.mu.Unlock()
	v.notify()
	return nil
}

// Resync re-establishes the live stream when it has ended and replaces the
// history with a fresh listing. Call it after a reconnect.
func (v *View) Resync(ctx context.Context) error {
	select {
	case <-v.Done():
		if err := v.subscribe(ctx); err != nil {
			return err
		}
		v.logg.Info(v.logg.WithProposalID(ctx, v.proposalID.String()), "sync view stream restored")
	default:
	}
	if err := v.Refresh(ctx); err != nil {
		return err
	}
	return v.reloadHistory(ctx)
}

// Proposal returns the last fetched snapshot.
func (v *View) Proposal() (proposals.ProposalDetail, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.detail == nil {
		return proposals.ProposalDetail{}, false
	}
	return *v.detail, true
}

// Messages returns a copy of the reconciled history.
func (v *View) Messages() []discussion.MessageDTO {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]discussion.MessageDTO, len(v.messages))
	copy(out, v.messages)
	return out
}

// Done is closed when the live stream ends. Resync restores it.
func (v *View) Done() <-chan struct{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.sub == nil {
		return closedChan
	}
	return v.sub.Done()
}

// Close releases the live stream. Safe to call more than once.
func (v *View) Close() error {
	v.mu.Lock()
	sub := v.sub
	v.sub = nil
	v.closed = true
	v.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (v *View) subscribe(ctx context.Context) error {
	v.mu.RLock()
	closed := v.closed
	v.mu.RUnlock()
	if closed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "view is closed")
	}

	sub, err := v.source.Subscribe(ctx, v.proposalID, v.apply)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		_ = sub.Close()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "view is closed")
	}
	previous := v.sub
	v.sub = sub
	v.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// apply merges a live message.
func (v *View) apply(msg discussion.MessageDTO) {
	if msg.ProposalID != v.proposalID {
		return
	}
	v.mu.Lock()
	if v.listing {
		v.pending = append(v.pending, msg)
	}
	changed := v.mergeLocked([]discussion.MessageDTO{msg})
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

// reloadHistory lists every page and replaces the history with the result
// plus whatever arrived live while listing.
func (v *View) reloadHistory(ctx context.Context) error {
	v.mu.Lock()
	v.listing = true
	v.pending = nil
	v.mu.Unlock()

	fetched, err := v.listAll(ctx)

	v.mu.Lock()
	pending := v.pending
	v.listing = false
	v.pending = nil
	if err != nil {
		v.mu.Unlock()
		return err
	}
	v.messages = nil
	v.seen = make(map[uuid.UUID]struct{}, len(fetched)+len(pending))
	v.mergeLocked(fetched)
	v.mergeLocked(pending)
	v.mu.Unlock()

	v.notify()
	return nil
}

func (v *View) listAll(ctx context.Context) ([]discussion.MessageDTO, error) {
	var out []discussion.MessageDTO
	cursor := ""
	for {
		page, err := v.source.ListMessages(ctx, v.proposalID, pagination.Params{Limit: v.pageSize, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.Cursor == "" || page.Cursor == cursor || len(page.Items) == 0 {
			return out, nil
		}
		cursor = page.Cursor
	}
}

func (v *View) mergeLocked(msgs []discussion.MessageDTO) bool {
	changed := false
	for _, msg := range msgs {
		if _, ok := v.seen[msg.ID]; ok {
			continue
		}
		v.seen[msg.ID] = struct{}{}
		v.messages = append(v.messages, msg)
		changed = true
	}
	if changed {
		sort.SliceStable(v.messages, func(i, j int) bool {
			a, b := v.messages[i], v.messages[j]
			return pagination.Less(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
		})
	}
	return changed
}

func (v *View) notify() {
	if v.onChange != nil {
		v.onChange()
	}
}
