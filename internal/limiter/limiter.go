// Package limiter caps traded volume per side over rolling time windows. A
// History is an append-only usage log; Limits evaluates a list of
// (max amount, window) rules against it at read time.
package limiter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantshed/bandkeeper/internal/domain"
)

// Unlimited is the capacity reported when no rules are configured. Large
// enough that no realistic order size can reach it.
var Unlimited = decimal.New(1, 27)

type entry struct {
	at     time.Time
	amount decimal.Decimal
}

// History is a time-ordered usage log for one side. It lives for the whole
// process; bands are rebuilt every cycle around the same History so that
// already-consumed volume survives configuration reloads.
type History struct {
	mu      sync.Mutex
	entries []entry
}

// NewHistory returns an empty usage log.
func NewHistory() *History {
	return &History{}
}

// Append records amount as used at time now. Entries older than keep are
// pruned so the log stays bounded in long-running processes; pruning never
// affects correctness because reads filter by window anyway.
func (h *History) Append(now time.Time, amount decimal.Decimal, keep time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if keep > 0 {
		cutoff := now.Add(-keep)
		i := 0
		for i < len(h.entries) && !h.entries[i].at.After(cutoff) {
			i++
		}
		h.entries = h.entries[i:]
	}
	h.entries = append(h.entries, entry{at: now, amount: amount})
}

// UsedSince sums entries with cutoff < at <= now.
func (h *History) UsedSince(cutoff, now time.Time) decimal.Decimal {
	h.mu.Lock()
	defer h.mu.Unlock()

	used := decimal.Zero
	for _, e := range h.entries {
		if e.at.After(cutoff) && !e.at.After(now) {
			used = used.Add(e.amount)
		}
	}
	return used
}

// Rule caps total traded amount within a rolling window.
type Rule struct {
	MaxAmount decimal.Decimal
	Window    time.Duration
}

// Limits evaluates a rule set for one side against a shared History.
type Limits struct {
	rules   []Rule
	history *History
	longest time.Duration
}

// NewLimits builds a Limits over history. An empty rule list means the side
// is effectively unbounded.
func NewLimits(rules []Rule, history *History) *Limits {
	longest := time.Duration(0)
	for _, r := range rules {
		if r.Window > longest {
			longest = r.Window
		}
	}
	return &Limits{rules: rules, history: history, longest: longest}
}

// AvailableLimit returns the minimum remaining capacity across all rules,
// floored at zero. With no rules configured it returns Unlimited.
func (l *Limits) AvailableLimit(now time.Time) decimal.Decimal {
	if len(l.rules) == 0 {
		return Unlimited
	}
	available := Unlimited
	for _, r := range l.rules {
		used := l.history.UsedSince(now.Add(-r.Window), now)
		remaining := r.MaxAmount.Sub(used)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if remaining.LessThan(available) {
			available = remaining
		}
	}
	return available
}

// UseLimit records amount as consumed at now. Call it only after a placement
// was confirmed successful, never speculatively.
func (l *Limits) UseLimit(now time.Time, amount decimal.Decimal) {
	l.history.Append(now, amount, l.longest)
}

// ParseWindow parses a window string like "30s", "15m", "1h", "1d" or "1w".
// Day and week units are handled here because time.ParseDuration stops at
// hours.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("limiter: empty window: %w", domain.ErrInvalidDuration)
	}
	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("limiter: window %q: %w", s, domain.ErrInvalidDuration)
		}
		d := time.Duration(n) * 24 * time.Hour
		if unit == 'w' {
			d *= 7
		}
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("limiter: window %q: %w", s, domain.ErrInvalidDuration)
	}
	return d, nil
}
