package api

import (
	"sort"
	"sync"

	"github.com/nerrad567/simpit-core/internal/exportstream"
)

// ValueChange is one address whose value changed during a frame.
type ValueChange struct {
	Address uint16 `json:"address"`
	Value   uint16 `json:"value"`
}

// FrameEvent is the payload of a ChannelFrames event.
type FrameEvent struct {
	Frame   uint64        `json:"frame"`
	Changes []ValueChange `json:"changes"`
}

// FeedListener relays per-frame value changes to the hub.
//
// Writes that repeat the last known value are not relayed. Changes keep the
// order in which their address was first written in the frame. New
// subscribers receive every known value as a frames.snapshot event.
type FeedListener struct {
	hub *Hub

	mu    sync.Mutex
	last  map[uint16]uint16
	index map[uint16]int
	batch []ValueChange
	frame uint64
}

// Ensure FeedListener implements exportstream.Listener.
var _ exportstream.Listener = (*FeedListener)(nil)

// NewFeedListener creates a FeedListener and registers its snapshot with hub.
func NewFeedListener(hub *Hub) *FeedListener {
	f := &FeedListener{
		hub:   hub,
		last:  make(map[uint16]uint16),
		index: make(map[uint16]int),
	}
	hub.SetSnapshot(ChannelFrames, func() any { return f.Snapshot() })
	return f
}

// OnWrite records value if it differs from the last one seen at address.
func (f *FeedListener) OnWrite(address, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i, ok := f.index[address]; ok {
		f.batch[i].Value = value
		f.last[address] = value
		return
	}
	if prev, seen := f.last[address]; seen && prev == value {
		return
	}
	f.last[address] = value
	f.index[address] = len(f.batch)
	f.batch = append(f.batch, ValueChange{Address: address, Value: value})
}

// OnFrameSync broadcasts the frame's changes, if any.
func (f *FeedListener) OnFrameSync() {
	f.mu.Lock()
	f.frame++
	if len(f.batch) == 0 {
		f.mu.Unlock()
		return
	}
	event := FrameEvent{Frame: f.frame, Changes: f.batch}
	f.batch = nil
	clear(f.index)
	f.mu.Unlock()

	f.hub.Broadcast(ChannelFrames, event)
}

// Snapshot returns every known value ordered by address.
func (f *FeedListener) Snapshot() FrameEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	changes := make([]ValueChange, 0, len(f.last))
	for addr, v := range f.last {
		changes = append(changes, ValueChange{Address: addr, Value: v})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Address < changes[j].Address })
	return FrameEvent{Frame: f.frame, Changes: changes}
}
