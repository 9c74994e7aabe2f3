package orders

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DOPrefix starts every delivery order number.
const DOPrefix = "DO-"

// DefaultLookback is how many recent orders the allocator scans.
const DefaultLookback = 1000

var doNumberPattern = regexp.MustCompile(`^DO-(\d+)$`)

// FormatDONumber renders n as a DO number.
func FormatDONumber(n int64) string {
	return DOPrefix + strconv.FormatInt(n, 10)
}

// ParseDONumber extracts the numeric suffix. Malformed values report false.
func ParseDONumber(s string) (int64, bool) {
	m := doNumberPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SequenceSource lists the most recently created DO numbers, newest first.
type SequenceSource interface {
	RecentDONumbers(ctx context.Context, limit int) ([]string, error)
}

// Allocator computes the next DO number as one more than the highest number
// in a bounded window of recent orders. It does not reserve the number; the
// unique constraint on do_number rejects a concurrent duplicate and the
// caller retries with a fresh allocation.
type Allocator struct {
	source   SequenceSource
	lookback int
}

// NewAllocator builds an allocator scanning lookback recent orders.
func NewAllocator(source SequenceSource, lookback int) *Allocator {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Allocator{source: source, lookback: lookback}
}

// Next returns the next free suffix, 1 for an empty store.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	recent, err := a.source.RecentDONumbers(ctx, a.lookback)
	if err != nil {
		return 0, fmt.Errorf("orders: scan recent do numbers: %w", err)
	}
	return HighWater(recent) + 1, nil
}

// HighWater is the largest well-formed suffix in numbers, 0 when none parse.
func HighWater(numbers []string) int64 {
	var high int64
	for _, s := range numbers {
		if n, ok := ParseDONumber(s); ok && n > high {
			high = n
		}
	}
	return high
}
