package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrozenAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFrozen(base)

	assert.Equal(t, base, f.Now())

	f.Advance(301 * time.Second)
	assert.Equal(t, base.Add(301*time.Second), f.Now())

	f.Set(base)
	assert.Equal(t, base, f.Now())
}
