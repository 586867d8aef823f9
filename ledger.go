package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

// ReservedResponseTokens is the headroom admitted for the generated output before its size is known
const ReservedResponseTokens = 1500

const ledgerDateLayout = "2006-01-02"

// EstimateTokens approximates the token count of text as ceil(chars/4), at least 1
func EstimateTokens(text string) int {
	n := (utf8.RuneCountInString(text) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// LedgerStore persists the usage ledger. Load returns a zero ledger when nothing is stored yet.
type LedgerStore interface {
	Load(ctx context.Context) (UsageLedger, error)
	Save(ctx context.Context, ledger UsageLedger) error
}

// LedgerAdder is implemented by stores that can increment atomically.
// Add stores {date, n} when the stored date differs, otherwise adds n, and returns the new ledger.
type LedgerAdder interface {
	Add(ctx context.Context, date string, n int) (UsageLedger, error)
}

var errCorruptLedger = errors.New("corrupt usage ledger")

func validateLedger(l UsageLedger) error {
	if l.Tokens < 0 {
		return fmt.Errorf("%w: negative token count %d", errCorruptLedger, l.Tokens)
	}
	if l.Date != "" {
		if _, err := time.Parse(ledgerDateLayout, l.Date); err != nil {
			return fmt.Errorf("%w: bad date %q", errCorruptLedger, l.Date)
		}
	}
	return nil
}

// TokenBudget enforces the daily token cap on top of a LedgerStore
type TokenBudget struct {
	store LedgerStore
	limit int
	now   func() time.Time

	mu sync.Mutex
	// memory holds the ledger after a failed write so usage is not forgotten for the rest of the process
	memory *UsageLedger
}

// NewTokenBudget creates a budget with the given daily limit
func NewTokenBudget(store LedgerStore, limit int) *TokenBudget {
	return &TokenBudget{
		store: store,
		limit: limit,
		now:   time.Now,
	}
}

// Limit returns the daily token cap
func (b *TokenBudget) Limit() int {
	return b.limit
}

func (b *TokenBudget) today() string {
	return b.now().UTC().Format(ledgerDateLayout)
}

// Load returns today's ledger. A ledger from another day, a missing one and a corrupt one all read as {today, 0}.
func (b *TokenBudget) Load(ctx context.Context) UsageLedger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(ctx)
}

func (b *TokenBudget) loadLocked(ctx context.Context) UsageLedger {
	today := b.today()
	current := UsageLedger{Date: today}

	stored, err := b.store.Load(ctx)
	if err == nil {
		err = validateLedger(stored)
	}
	switch {
	case err != nil:
		slog.Warn("Failed to read usage ledger, starting from zero", "error", err)
	case stored.Date == today:
		current = stored
	default:
		slog.Debug("Usage ledger is from another day, resetting", "stored_date", stored.Date, "today", today)
	}

	if b.memory != nil {
		if b.memory.Date != today {
			b.memory = nil
		} else if b.memory.Tokens > current.Tokens {
			current = *b.memory
		}
	}

	ledgerTokens.Set(float64(current.Tokens))
	return current
}

// Admit reports whether promptTokens plus reservedTokens still fit under today's cap.
// The returned ledger is the one the decision was made on.
func (b *TokenBudget) Admit(ctx context.Context, promptTokens, reservedTokens int) (UsageLedger, bool) {
	current := b.Load(ctx)
	ok := current.Tokens+promptTokens+reservedTokens <= b.limit
	slog.Debug("Token budget check", "used", current.Tokens, "prompt", promptTokens, "reserved", reservedTokens, "limit", b.limit, "admitted", ok)
	return current, ok
}

// Commit adds tokens to today's ledger and persists it. Write failures are logged and the
// in-memory ledger is kept for the rest of the process; Commit never fails.
func (b *TokenBudget) Commit(ctx context.Context, tokens int) UsageLedger {
	b.mu.Lock()
	defer b.mu.Unlock()

	if adder, ok := b.store.(LedgerAdder); ok && b.memory == nil {
		next, err := adder.Add(ctx, b.today(), tokens)
		if err == nil {
			ledgerTokens.Set(float64(next.Tokens))
			slog.Info("Recorded token usage", "tokens", tokens, "total", next.Tokens, "date", next.Date)
			return next
		}
		slog.Warn("Failed to increment usage ledger, keeping usage in memory", "error", err)
		fallback := b.loadLocked(ctx)
		fallback.Tokens += tokens
		b.memory = &fallback
		ledgerTokens.Set(float64(fallback.Tokens))
		return fallback
	}

	next := b.loadLocked(ctx)
	next.Tokens += tokens
	if err := b.store.Save(ctx, next); err != nil {
		slog.Warn("Failed to persist usage ledger, keeping usage in memory", "error", err)
		b.memory = &next
	} else {
		b.memory = nil
	}
	ledgerTokens.Set(float64(next.Tokens))
	slog.Info("Recorded token usage", "tokens", tokens, "total", next.Tokens, "date", next.Date)
	return next
}

// FileLedgerStore keeps the ledger as a small JSON object on disk
type FileLedgerStore struct {
	path string
}

// NewFileLedgerStore creates a store backed by path
func NewFileLedgerStore(path string) *FileLedgerStore {
	return &FileLedgerStore{path: path}
}

// Load reads the ledger file; a missing file is an empty ledger
func (s *FileLedgerStore) Load(ctx context.Context) (UsageLedger, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return UsageLedger{}, nil
	}
	if err != nil {
		return UsageLedger{}, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var ledger UsageLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return UsageLedger{}, fmt.Errorf("%w: %v", errCorruptLedger, err)
	}
	return ledger, nil
}

// Save writes the ledger through a temp file and rename so readers never see a partial file
func (s *FileLedgerStore) Save(ctx context.Context, ledger UsageLedger) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".usage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}
