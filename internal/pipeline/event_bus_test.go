package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	mu   sync.Mutex
	seqs []uint64
}

func (h *recordingHandler) OnFrameResult(r *FrameResult) {
	h.mu.Lock()
	h.seqs = append(h.seqs, r.Frame.Seq)
	h.mu.Unlock()
}

func result(seq uint64) *FrameResult {
	return &FrameResult{Frame: &FrameData{Seq: seq}}
}

func TestEventBusHandlerSubscription(t *testing.T) {
	bus := NewEventBus()
	h := &recordingHandler{}
	unsubscribe := bus.Subscribe(h)

	bus.Publish(result(1))
	bus.Publish(nil)
	bus.Publish(result(2))
	unsubscribe()
	bus.Publish(result(3))

	assert.Equal(t, []uint64{1, 2}, h.seqs)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(1)

	bus.Publish(result(1))
	bus.Publish(result(2))

	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, uint64(1), (<-ch).Frame.Seq)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestEventBusClose(t *testing.T) {
	bus := NewEventBus()
	ch1, _ := bus.SubscribeChannel(0)
	ch2, _ := bus.SubscribeChannel(4)
	bus.Subscribe(&recordingHandler{})
	assert.Equal(t, 3, bus.SubscriberCount())

	bus.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
	assert.Equal(t, 0, bus.SubscriberCount())
}
