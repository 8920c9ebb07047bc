package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)

	assert.Equal(t, start, m.Now())
	assert.Equal(t, start.Add(1500*time.Millisecond), m.Advance(1500*time.Millisecond))
	assert.Equal(t, start.Add(1500*time.Millisecond), m.Now())

	later := start.Add(time.Hour)
	m.Set(later)
	assert.Equal(t, later, m.Now())
}

func TestRealMovesForward(t *testing.T) {
	c := Real()
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
