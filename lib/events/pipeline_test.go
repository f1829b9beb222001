package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectBatches subscribes and returns accessors for everything delivered
func collectBatches(p *Pipeline[string, int]) (batches func() [][]Event[string, int], flat func() []Event[string, int]) {
	var mu sync.Mutex
	var got [][]Event[string, int]
	p.Subscribe(func(batch []Event[string, int]) {
		cp := make([]Event[string, int], len(batch))
		copy(cp, batch)
		mu.Lock()
		got = append(got, cp)
		mu.Unlock()
	})
	batches = func() [][]Event[string, int] {
		mu.Lock()
		defer mu.Unlock()
		out := make([][]Event[string, int], len(got))
		copy(out, got)
		return out
	}
	flat = func() []Event[string, int] {
		var out []Event[string, int]
		for _, b := range batches() {
			out = append(out, b...)
		}
		return out
	}
	return batches, flat
}

// TestSizeThreshold tests that a full batch is emitted without waiting for
// the time window
func TestSizeThreshold(t *testing.T) {
	p := NewPipeline[string, int](3, 10*time.Second)
	defer p.Close()

	batches, _ := collectBatches(p)
	for i := 0; i < 3; i++ {
		p.Emit(Event[string, int]{Type: TypeCreated, Key: "k", NewValue: i})
	}

	require.Eventually(t, func() bool {
		return len(batches()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, batches()[0], 3)
}

// TestTimeWindow tests that a partial batch is emitted when the window fires
func TestTimeWindow(t *testing.T) {
	p := NewPipeline[string, int](100, 50*time.Millisecond)
	defer p.Close()

	_, flat := collectBatches(p)
	p.Emit(Event[string, int]{Type: TypeCreated, Key: "a", NewValue: 1})

	require.Eventually(t, func() bool {
		return len(flat()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestPerKeyOrder tests that events for one key keep their emission order
func TestPerKeyOrder(t *testing.T) {
	p := NewPipeline[string, int](10, 20*time.Millisecond)
	defer p.Close()

	_, flat := collectBatches(p)
	for i := 0; i < 50; i++ {
		p.Emit(Event[string, int]{Type: TypeUpdated, Key: "k", NewValue: i})
	}

	require.Eventually(t, func() bool {
		return len(flat()) == 50
	}, 2*time.Second, 10*time.Millisecond)

	for i, ev := range flat() {
		assert.Equal(t, i, ev.NewValue)
	}
}

// TestCloseFlushesAndEmitsClosing tests the shutdown path
func TestCloseFlushesAndEmitsClosing(t *testing.T) {
	p := NewPipeline[string, int](100, 10*time.Second)

	_, flat := collectBatches(p)
	p.Emit(Event[string, int]{Type: TypeCreated, Key: "a", NewValue: 1})
	p.Close()

	evs := flat()
	require.Len(t, evs, 2)
	assert.Equal(t, TypeCreated, evs[0].Type)
	assert.Equal(t, TypeClosing, evs[1].Type)

	// emits after close are ignored
	p.Emit(Event[string, int]{Type: TypeCreated, Key: "b", NewValue: 2})
	assert.Len(t, flat(), 2)
}

// TestSubscriptionCancel tests that a cancelled subscriber stops receiving
func TestSubscriptionCancel(t *testing.T) {
	p := NewPipeline[string, int](1, 10*time.Millisecond)
	defer p.Close()

	var mu sync.Mutex
	count := 0
	cancel := p.Subscribe(func(batch []Event[string, int]) {
		mu.Lock()
		count += len(batch)
		mu.Unlock()
	})

	p.Emit(Event[string, int]{Type: TypeCreated, Key: "a"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	cancel() // idempotent

	p.Emit(Event[string, int]{Type: TypeCreated, Key: "b"})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
