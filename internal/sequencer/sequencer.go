// Package sequencer serializes every mutating command through a single
// goroutine that owns the settlement engine. Commands are applied, journaled
// and only then acknowledged; readers see consistent snapshots through a
// read lock.
package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// ErrSequenceGap is returned by Replay when the journal skips a sequence
// number.
var ErrSequenceGap = errors.New("journal sequence gap")

const replayPageSize = 500

// Committed is a command that was applied and journaled.
type Committed struct {
	Entry  domain.JournalEntry
	Result settlement.Result
}

type reply struct {
	committed Committed
	err       error
}

type request struct {
	id    string
	cmd   settlement.Command
	reply chan reply
}

// Config configures a Sequencer.
type Config struct {
	Engine    *settlement.Engine
	Journal   domain.JournalStore
	InboxSize int
	// Clock stamps commands, truncated to microseconds; defaults to time.Now
	// in UTC.
	Clock func() time.Time
	// OnCommit runs on the sequencer goroutine after each journaled command.
	// It must not block.
	OnCommit func(Committed)
	// DumpPath, when set, receives a JSON state dump if the sequencer halts.
	DumpPath string
	Logger   *slog.Logger
}

// Sequencer is the single writer of the engine.
type Sequencer struct {
	inbox    chan request
	engine   *settlement.Engine
	journal  domain.JournalStore
	clock    func() time.Time
	onCommit func(Committed)
	dumpPath string
	logger   *slog.Logger

	nextSeq uint64
	applied map[string]struct{}
	halted  error

	mu sync.RWMutex
}

// New creates a sequencer. Call Replay before Run to rebuild state from the
// journal.
func New(cfg Config) *Sequencer {
	size := cfg.InboxSize
	if size <= 0 {
		size = 256
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		inbox:    make(chan request, size),
		engine:   cfg.Engine,
		journal:  cfg.Journal,
		clock:    clock,
		onCommit: cfg.OnCommit,
		dumpPath: cfg.DumpPath,
		logger:   logger.With(slog.String("component", "sequencer")),
		nextSeq:  1,
		applied:  make(map[string]struct{}),
	}
}

// Replay applies every journaled command in sequence order. It returns the
// number of entries replayed.
func (s *Sequencer) Replay(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for {
		entries, err := s.journal.ReadFrom(ctx, s.nextSeq-1, replayPageSize)
		if err != nil {
			return n, fmt.Errorf("sequencer: replay read after %d: %w", s.nextSeq-1, err)
		}
		for _, entry := range entries {
			if entry.Seq != s.nextSeq {
				return n, fmt.Errorf("sequencer: expected seq %d, got %d: %w", s.nextSeq, entry.Seq, ErrSequenceGap)
			}
			cmd, err := settlement.DecodeCommand(entry.Op, entry.Payload)
			if err != nil {
				return n, fmt.Errorf("sequencer: replay seq %d: %w", entry.Seq, err)
			}
			if _, err := s.engine.Apply(entry.At, cmd); err != nil {
				return n, fmt.Errorf("sequencer: replay seq %d %s: %w", entry.Seq, entry.Op, err)
			}
			s.applied[entry.RequestID] = struct{}{}
			s.nextSeq++
			n++
		}
		if len(entries) < replayPageSize {
			break
		}
	}
	s.logger.Info("journal replayed", slog.Int("entries", n), slog.Uint64("last_seq", s.nextSeq-1))
	return n, nil
}

// Run processes commands until ctx is cancelled or the sequencer halts. It
// must run in exactly one goroutine.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Info("sequencer started", slog.Uint64("next_seq", s.nextSeq))
	defer s.logger.Info("sequencer stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.inbox:
			committed, err := s.process(ctx, req)
			req.reply <- reply{committed: committed, err: err}
			if s.halted != nil {
				s.drain()
				return s.halted
			}
		}
	}
}

func (s *Sequencer) process(ctx context.Context, req request) (Committed, error) {
	if _, dup := s.applied[req.id]; dup {
		return Committed{}, fmt.Errorf("sequencer: request %s: %w", req.id, domain.ErrDuplicateRequest)
	}
	payload, err := json.Marshal(req.cmd)
	if err != nil {
		return Committed{}, fmt.Errorf("sequencer: encode %s: %w", req.cmd.Op(), err)
	}

	// Journals keep microseconds; replay must see the same instant.
	at := s.clock().Truncate(time.Microsecond)
	s.mu.Lock()
	res, err := s.engine.Apply(at, req.cmd)
	s.mu.Unlock()
	if err != nil {
		return Committed{}, err
	}

	entry := domain.JournalEntry{
		Seq:        s.nextSeq,
		RequestID:  req.id,
		Op:         req.cmd.Op(),
		MarketID:   req.cmd.Market(),
		Caller:     req.cmd.Actor(),
		At:         at,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}
	if s.journal != nil {
		if err := s.journal.Append(ctx, entry); err != nil {
			s.halt(fmt.Errorf("journal append seq %d: %w", entry.Seq, err))
			return Committed{}, fmt.Errorf("sequencer: %w", s.halted)
		}
	}
	s.applied[req.id] = struct{}{}
	s.mu.Lock()
	s.nextSeq++
	s.mu.Unlock()

	c := Committed{Entry: entry, Result: res}
	if s.onCommit != nil {
		s.onCommit(c)
	}
	return c, nil
}

// halt stops the sequencer after the engine and journal diverged. A restart
// replays the journal, dropping the unjournaled command.
func (s *Sequencer) halt(cause error) {
	s.halted = fmt.Errorf("%w: %v", domain.ErrHalted, cause)
	s.logger.Error("sequencer halted", slog.String("error", cause.Error()))
	if s.dumpPath != "" {
		if err := s.DumpState(s.dumpPath); err != nil {
			s.logger.Error("state dump failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Sequencer) drain() {
	for {
		select {
		case req := <-s.inbox:
			req.reply <- reply{err: s.halted}
		default:
			return
		}
	}
}

// Submit sends cmd to the sequencer and waits for the result. An empty
// requestID is replaced by a random one; resubmitting an applied requestID
// fails with domain.ErrDuplicateRequest.
func (s *Sequencer) Submit(ctx context.Context, requestID string, cmd settlement.Command) (Committed, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req := request{id: requestID, cmd: cmd, reply: make(chan reply, 1)}
	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return Committed{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.committed, r.err
	case <-ctx.Done():
		return Committed{}, ctx.Err()
	}
}

// Read runs fn with the engine under a read lock. fn must not retain the
// engine or mutate it.
func (s *Sequencer) Read(fn func(e *settlement.Engine)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.engine)
}

// LastSeq returns the sequence number of the last applied command.
func (s *Sequencer) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// DumpState writes every market and the house balance as JSON for
// post-mortem analysis.
func (s *Sequencer) DumpState(path string) error {
	s.mu.RLock()
	views := make([]domain.MarketView, 0)
	now := s.clock()
	for _, m := range s.engine.Markets() {
		views = append(views, domain.NewMarketView(m, now))
	}
	data := struct {
		NextSeq uint64              `json:"next_seq"`
		House   string              `json:"house"`
		Markets []domain.MarketView `json:"markets"`
	}{
		NextSeq: s.nextSeq,
		House:   s.engine.House().String(),
		Markets: views,
	}
	s.mu.RUnlock()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("sequencer: marshal dump: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("sequencer: write dump: %w", err)
	}
	return nil
}
