package progress

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2025, 6, 3, 14, 5, 9, 0, time.UTC) }
}

func TestWriter_StampsLines(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	w.now = fixedClock()

	Emitf(w, "running %s", "order query")
	Warnf(w, "no rows for %s", "Amazon")
	Errorf(w, "boom")

	assert.Equal(t,
		"[14:05:09] running order query\n"+
			"[14:05:09] WARNING: no rows for Amazon\n"+
			"[14:05:09] ERROR: boom\n",
		out.String())
}

func TestEmitf_NilSink(t *testing.T) {
	assert.NotPanics(t, func() { Emitf(nil, "ignored") })
}

func TestBuffer_LinesSince(t *testing.T) {
	b := NewBuffer()
	b.now = fixedClock()

	b.Emit("one")
	b.Emit("two")
	b.Emit("three")

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"[14:05:09] one", "[14:05:09] two", "[14:05:09] three"}, b.Lines(0))
	assert.Equal(t, []string{"[14:05:09] three"}, b.Lines(2))
	assert.Empty(t, b.Lines(3))
	assert.NotNil(t, b.Lines(10))
	assert.Len(t, b.Lines(-4), 3)

	lines := b.Lines(0)
	lines[0] = "mutated"
	assert.Equal(t, "[14:05:09] one", b.Lines(0)[0])
}

func TestBuffer_ConcurrentEmit(t *testing.T) {
	b := NewBuffer()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit("x")
			_ = b.Lines(0)
		}()
	}
	wg.Wait()
	require.Equal(t, 50, b.Len())
}
