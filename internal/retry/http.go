package retry

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusAction is what the retry loop should do with an HTTP status
type StatusAction int

const (
	ActionDone  StatusAction = iota // 2xx, use the response
	ActionRetry                     // 429, 5xx
	ActionAbort                     // other 4xx
)

// ClassifyStatus maps a response status to a retry action
func ClassifyStatus(status int) StatusAction {
	switch {
	case status >= 200 && status < 300:
		return ActionDone
	case status == http.StatusTooManyRequests:
		return ActionRetry
	case status >= 400 && status < 500:
		return ActionAbort
	default:
		return ActionRetry
	}
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. ok is false when the header is absent or unusable.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(header); err == nil {
		delay := at.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}

// Budget is a wall-clock allowance shared by a sequence of calls.
// Once spent, callers stop starting new work; work already in flight is not interrupted.
type Budget struct {
	deadline time.Time
	now      func() time.Time
}

// NewBudget starts a budget of d from now
func NewBudget(d time.Duration) *Budget {
	return NewBudgetWithClock(d, time.Now)
}

// NewBudgetWithClock starts a budget using the given clock
func NewBudgetWithClock(d time.Duration, now func() time.Time) *Budget {
	return &Budget{deadline: now().Add(d), now: now}
}

// Exhausted reports whether the budget is spent. A nil budget never is.
func (b *Budget) Exhausted() bool {
	if b == nil {
		return false
	}
	return b.now().After(b.deadline)
}

// Remaining returns the time left, never negative
func (b *Budget) Remaining() time.Duration {
	if b == nil {
		return time.Duration(1<<63 - 1)
	}
	left := b.deadline.Sub(b.now())
	if left < 0 {
		return 0
	}
	return left
}
