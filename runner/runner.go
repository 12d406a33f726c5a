package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mbox-contacts/config"
	"github.com/dhcgn/mbox-contacts/filter"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/state"
	"github.com/dhcgn/mbox-contacts/stats"
)

var ErrMessageHashMissing = errors.New("message hash is empty")

type StageFunc func(context.Context) error

// Runner wires a message source to the address book. A source stage writes
// envelopes to MailboxWriter, the bridge drops messages that were already
// harvested, and the book stage records every participant that passes the
// address filter.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	accepted chan model.Message
	events   chan stats.Event

	subscribers []chan stats.Event

	tracker *state.FileTracker
	book    *state.FileBook
	filter  *filter.Filter

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce  sync.Once
	closeAcceptedOnce sync.Once
	closeEventsOnce   sync.Once
	closeStateOnce    sync.Once
	since             time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	participants, err := filter.New(filter.Options{
		IncludeAddress: cfg.IncludeAddress,
		ExcludeAddress: cfg.ExcludeAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("address filter: %w", err)
	}

	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("state tracker: %w", err)
	}

	book, err := state.NewFileBook(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		_ = tracker.Close()
		return nil, fmt.Errorf("address book: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		accepted: make(chan model.Message, 32),
		events:   make(chan stats.Event, 128),
		tracker:  tracker,
		book:     book,
		filter:   participants,
	}

	r.AddStage("bridge", r.bridge)
	r.AddStage("book", r.record)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) Book() state.Book {
	return r.book
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers fn to receive every pipeline event on its own
// channel. Subscriptions must happen before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, cap(r.events))
	r.subscribers = append(r.subscribers, ch)

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start blocks until every stage returned, then closes the state files.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.statsWG.Add(1)
	go r.dispatch()

	r.workWG.Wait()

	if err := r.closeState(); err != nil {
		r.fail(err)
	}

	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	snapshot := r.book.Snapshot()
	r.logger.Info("pipeline completed", "duration", duration, "addresses", snapshot.Addresses, "stateDir", r.cfg.StateDir)
	return nil
}

// Close abandons a runner that will not be started: stages and subscribers
// are cancelled and the state files are flushed and closed. Use it when
// setup fails after New.
func (r *Runner) Close() error {
	r.cancel()
	r.CloseMailbox()
	r.workWG.Wait()
	r.statsWG.Wait()
	return r.closeState()
}

func (r *Runner) closeState() error {
	var err error
	r.closeStateOnce.Do(func() {
		if cerr := r.tracker.Close(); cerr != nil {
			err = fmt.Errorf("close state tracker: %w", cerr)
		}
		if cerr := r.book.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close address book: %w", cerr))
		}
	})
	return err
}

func (r *Runner) dispatch() {
	defer r.statsWG.Done()
	defer func() {
		for _, ch := range r.subscribers {
			close(ch)
		}
	}()

	for evt := range r.events {
		for _, ch := range r.subscribers {
			select {
			case <-r.ctx.Done():
			case ch <- evt:
			}
		}
	}
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeAccepted()

	source := stats.Stage(r.cfg.Source())
	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.logger.Warn("skipping unreadable message", "source", source, "err", envelope.Err)
				r.EmitEvent(stats.Event{Stage: source, Type: stats.EventTypeError, Err: envelope.Err})
				continue
			}

			msg := envelope.Message
			r.EmitEvent(stats.Event{Stage: source, Type: stats.EventTypeScanned, MessageID: msg.ID})

			if msg.Hash == "" {
				err := fmt.Errorf("message %s: %w", msg.ID, ErrMessageHashMissing)
				r.EmitEvent(stats.Event{Stage: source, Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
				return err
			}

			if _, dup := seen[msg.Hash]; dup || r.tracker.AlreadyProcessed(msg.Hash) {
				r.EmitEvent(stats.Event{Stage: source, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
				continue
			}
			seen[msg.Hash] = struct{}{}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.accepted <- msg:
			}
		}
	}
}

func (r *Runner) record(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.accepted:
			if !ok {
				return nil
			}
			if err := r.recordMessage(msg); err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageBook, Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
				return err
			}
		}
	}
}

func (r *Runner) recordMessage(msg model.Message) error {
	for _, addr := range msg.Addresses() {
		if !r.filter.AllowsAddress(addr) {
			r.EmitEvent(stats.Event{Stage: stats.StageBook, Type: stats.EventTypeFiltered, MessageID: msg.ID, Detail: addr.Email()})
			continue
		}

		added, err := r.book.Record(addr, msg.Date)
		if err != nil {
			return fmt.Errorf("record %s: %w", addr.Email(), err)
		}

		evtType := stats.EventTypeKnown
		if added {
			evtType = stats.EventTypeParticipant
			r.logger.Debug("new participant", "address", addr, "messageID", msg.ID, "mailbox", msg.Mailbox)
		}
		r.EmitEvent(stats.Event{Stage: stats.StageBook, Type: evtType, MessageID: msg.ID, Detail: addr.Email()})
	}

	if err := r.tracker.MarkProcessed(msg.Hash, msg.ID); err != nil {
		return fmt.Errorf("mark %s processed: %w", msg.ID, err)
	}
	return nil
}

func (r *Runner) closeAccepted() {
	r.closeAcceptedOnce.Do(func() {
		close(r.accepted)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
