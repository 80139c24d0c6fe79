package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// State is the lifecycle position of a Job.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// States lists every state in lifecycle order.
var States = []State{StateQueued, StateActive, StateCompleted, StateFailed}

func (s State) String() string { return string(s) }

func (s State) Valid() bool {
	switch s {
	case StateQueued, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether from -> to is an edge of the job state
// machine. active -> queued is the only backward edge (retryable failure).
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateActive
	case StateActive:
		return to == StateCompleted || to == StateFailed || to == StateQueued
	}
	return false
}

// ParseState parses a state name, case-insensitively.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown job state %q", s)
	}
	return st, nil
}

// Payload is the immutable input of a render job.
type Payload struct {
	Prompt  string `json:"prompt"`
	Contact string `json:"contact,omitempty"`
}

// Job is one video render request and its lifecycle record.
type Job struct {
	ID          string  `json:"id"`
	Payload     Payload `json:"payload"`
	State       State   `json:"state"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`

	// Result is set only when State is completed.
	Result string `json:"result,omitempty"`
	// FailureReason is set only when State is failed.
	FailureReason string `json:"failure_reason,omitempty"`
	// LastError is the reason of the latest retryable failure.
	LastError string `json:"last_error,omitempty"`

	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseToken     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	RunAt      time.Time  `json:"run_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Counts is the number of jobs per state.
type Counts struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Add increments the counter for s.
func (c *Counts) Add(s State, n int64) {
	switch s {
	case StateQueued:
		c.Queued += n
	case StateActive:
		c.Active += n
	case StateCompleted:
		c.Completed += n
	case StateFailed:
		c.Failed += n
	}
}

func (c Counts) Total() int64 {
	return c.Queued + c.Active + c.Completed + c.Failed
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListFilter selects recent jobs, newest first.
type ListFilter struct {
	State State // empty means any
	Limit int
}

// Normalize clamps Limit into [1, MaxListLimit], defaulting to DefaultListLimit.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return f
}

// MaxReasonLen bounds FailureReason and LastError, in bytes.
const MaxReasonLen = 2000

// TruncateUTF8 replaces invalid UTF-8 sequences in s and cuts the result to
// at most n bytes on a rune boundary. Postgres rejects invalid UTF-8 in TEXT
// columns.
func TruncateUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
