package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixed_AlwaysReturnsTheSameInstant(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fixed{At: at}
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}

func TestSequence_AdvancesThenRepeatsTheLastEntry(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	c := &Sequence{Times: []time.Time{t1, t2}}

	assert.Equal(t, t1, c.Now())
	assert.Equal(t, t2, c.Now())
	assert.Equal(t, t2, c.Now(), "exhausted sequence repeats its last entry")
}

func TestReal_ReportsANonZeroTime(t *testing.T) {
	assert.False(t, (Real{}).Now().IsZero())
}
