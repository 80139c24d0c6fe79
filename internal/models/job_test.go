package models

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateQueued, StateActive}:    true,
		{StateActive, StateCompleted}: true,
		{StateActive, StateFailed}:    true,
		{StateActive, StateQueued}:    true,
	}

	for _, from := range States {
		for _, to := range States {
			want := allowed[[2]State{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateActive.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestParseState(t *testing.T) {
	st, err := ParseState(" Completed ")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st)

	_, err = ParseState("running")
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	lease := time.Now()
	j := &Job{ID: "a", LeaseExpiresAt: &lease}

	c := j.Clone()
	*c.LeaseExpiresAt = lease.Add(time.Hour)
	c.ID = "b"

	assert.Equal(t, "a", j.ID)
	assert.True(t, j.LeaseExpiresAt.Equal(lease))
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestCounts(t *testing.T) {
	var c Counts
	c.Add(StateQueued, 2)
	c.Add(StateFailed, 1)
	c.Add(State("bogus"), 5)

	assert.Equal(t, Counts{Queued: 2, Failed: 1}, c)
	assert.Equal(t, int64(3), c.Total())
}

func TestListFilterNormalize(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ListFilter{}.Normalize().Limit)
	assert.Equal(t, MaxListLimit, ListFilter{Limit: 1000}.Normalize().Limit)
	assert.Equal(t, 7, ListFilter{Limit: 7}.Normalize().Limit)
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short ascii", "prompt rejected", 100, "prompt rejected"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"cut inside two-byte rune", "xéé", 2, "x"},
		{"cut after two-byte rune", "xéé", 3, "xé"},
		{"cut inside four-byte rune", "a🎬", 3, "a"},
		{"invalid bytes replaced", "bad \xff body", 100, "bad \uFFFD body"},
		{"zero", "é", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateUTF8(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.n)
		})
	}

	long := "x" + strings.Repeat("é", MaxReasonLen)
	got := TruncateUTF8(long, MaxReasonLen)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxReasonLen-1, len(got))
}
