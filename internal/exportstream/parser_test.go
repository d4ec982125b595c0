package exportstream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// event is one dispatched call captured by recordingDispatcher.
type event struct {
	sync    bool
	address uint16
	value   uint16
}

func syncEvent() event { return event{sync: true} }

func writeEvent(a, v uint16) event { return event{address: a, value: v} }

type recordingDispatcher struct {
	events []event
}

func (r *recordingDispatcher) reset() { r.events = nil }

func (r *recordingDispatcher) syncs() int {
	n := 0
	for _, e := range r.events {
		if e.sync {
			n++
		}
	}
	return n
}

func (r *recordingDispatcher) DispatchWrite(address, value uint16) {
	r.events = append(r.events, writeEvent(address, value))
}

func (r *recordingDispatcher) DispatchFrameSync() {
	r.events = append(r.events, syncEvent())
}

func newTestParser() (*Parser, *recordingDispatcher) {
	rec := &recordingDispatcher{}
	return NewParser(rec), rec
}

func feed(p *Parser, bytes ...byte) {
	for _, b := range bytes {
		p.Feed(b)
	}
}

func TestParser_SingleWriteFrame(t *testing.T) {
	p, rec := newTestParser()

	feed(p, 0x55, 0x55, 0x55, 0x55, 0x10, 0x00, 0x02, 0x00, 0xAA, 0x00)

	assert.Equal(t, []event{syncEvent(), writeEvent(0x0010, 0x00AA)}, rec.events)
	assert.Equal(t, StateAddressLow, p.State(), "parser should await the next group")
}

func TestParser_InitialStateIgnoresBytes(t *testing.T) {
	p, rec := newTestParser()

	feed(p, 0x10, 0x00, 0x02, 0x00, 0xAA, 0x00)

	assert.Empty(t, rec.events)
	assert.Equal(t, StateWaitForSync, p.State())
}

func TestParser_GroupAddressesIncrementByTwo(t *testing.T) {
	p, rec := newTestParser()

	stream := AppendSync(nil)
	stream = AppendGroup(stream, 0x1000, 0x0001, 0x0203, 0xFFFF)
	stream = AppendGroup(stream, 0x2000, 0x0042)
	_, err := p.Write(stream)
	require.NoError(t, err)

	assert.Equal(t, []event{
		syncEvent(),
		writeEvent(0x1000, 0x0001),
		writeEvent(0x1002, 0x0203),
		writeEvent(0x1004, 0xFFFF),
		writeEvent(0x2000, 0x0042),
	}, rec.events)
	assert.Equal(t, StateAddressLow, p.State())
}

func TestParser_SentinelAddress(t *testing.T) {
	p, rec := newTestParser()

	// Sync, then an address of 0x5555 followed by what would be a valid group.
	feed(p, 0x55, 0x55, 0x55, 0x55)
	feed(p, 0x55, 0x55)
	assert.Equal(t, StateWaitForSync, p.State(), "0x5555 must never reach the count states")

	feed(p, 0x10, 0x00, 0x02, 0x00, 0xAA, 0x00)

	assert.Equal(t, []event{syncEvent()}, rec.events, "no write may follow the sentinel")
}

func TestParser_SyncIdempotence(t *testing.T) {
	tests := []struct {
		name      string
		syncBytes int
		wantSyncs int
	}{
		{"three bytes", 3, 0},
		{"four bytes", 4, 1},
		{"five bytes", 5, 1},
		{"six bytes", 6, 1},
		{"seven bytes", 7, 1},
		{"eight bytes", 8, 2},
		{"twelve bytes", 12, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestParser()
			for i := 0; i < tt.syncBytes; i++ {
				p.Feed(SyncByte)
			}
			assert.Equal(t, tt.wantSyncs, rec.syncs())
			assert.Len(t, rec.events, tt.wantSyncs, "sync runs must not produce writes")
		})
	}
}

func TestParser_ResyncMidValue(t *testing.T) {
	p, rec := newTestParser()

	feed(p, 0x55, 0x55, 0x55, 0x55)
	// Group at 0x1000 announcing 16 data bytes, but only one value arrives.
	feed(p, 0x00, 0x10, 0x10, 0x00, 0x01, 0x02)
	// The next frame starts early.
	feed(p, 0x55, 0x55, 0x55, 0x55)
	feed(p, 0x20, 0x00, 0x02, 0x00, 0x07, 0x00)

	// Sync bytes consumed as data produce values until the marker completes.
	assert.Equal(t, []event{
		syncEvent(),
		writeEvent(0x1000, 0x0201),
		writeEvent(0x1002, 0x5555),
		writeEvent(0x1004, 0x5555),
		syncEvent(),
		writeEvent(0x0020, 0x0007),
	}, rec.events)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Syncs)
	assert.Equal(t, uint64(1), stats.Realigns)
	assert.Equal(t, uint64(4), stats.Writes)
	assert.Equal(t, uint64(20), stats.Bytes)
}

func TestParser_ResyncFromEveryState(t *testing.T) {
	// Prefixes that leave the parser in each state after an initial sync.
	prefixes := map[State][]byte{
		StateAddressLow:  {},
		StateAddressHigh: {0x10},
		StateCountLow:    {0x10, 0x00},
		StateCountHigh:   {0x10, 0x00, 0x08},
		StateDataLow:     {0x10, 0x00, 0x08, 0x00},
		StateDataHigh:    {0x10, 0x00, 0x08, 0x00, 0x01},
	}

	for state, prefix := range prefixes {
		t.Run(state.String(), func(t *testing.T) {
			p, rec := newTestParser()
			feed(p, 0x55, 0x55, 0x55, 0x55)
			feed(p, prefix...)
			require.Equal(t, state, p.State())

			feed(p, 0x55, 0x55, 0x55, 0x55)
			require.Equal(t, StateAddressLow, p.State())
			require.Equal(t, 2, rec.syncs())

			rec.reset()
			feed(p, 0x30, 0x00, 0x02, 0x00, 0x99, 0x00)
			assert.Equal(t, []event{writeEvent(0x0030, 0x0099)}, rec.events)
		})
	}
}

func TestParser_ResyncAfterRandomNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		p, rec := newTestParser()

		noise := make([]byte, rng.Intn(64))
		rng.Read(noise)
		feed(p, noise...)

		// A non-sync byte keeps a trailing 0x55 in the noise from
		// shortening the marker below.
		p.Feed(0x00)
		before := rec.syncs()

		stream := AppendSync(nil)
		stream = AppendGroup(stream, 0x4000, 0x1234)
		feed(p, stream...)

		require.Equal(t, before+1, rec.syncs(), "noise iteration %d", i)
		n := len(rec.events)
		require.GreaterOrEqual(t, n, 2)
		assert.Equal(t, []event{syncEvent(), writeEvent(0x4000, 0x1234)}, rec.events[n-2:], "noise iteration %d", i)
	}
}

func TestParser_AddressWraparound(t *testing.T) {
	p, rec := newTestParser()

	stream := AppendSync(nil)
	stream = AppendGroup(stream, 0xFFFE, 0x0001, 0x0002)
	feed(p, stream...)

	assert.Equal(t, []event{
		syncEvent(),
		writeEvent(0xFFFE, 0x0001),
		writeEvent(0x0000, 0x0002),
	}, rec.events)
}

func TestParser_OddCountWrapsAndKeepsReading(t *testing.T) {
	p, rec := newTestParser()

	// A count of 1 is decremented past zero by the second data byte, so the
	// parser keeps reading values until the next sync marker.
	feed(p, 0x55, 0x55, 0x55, 0x55, 0x00, 0x01, 0x01, 0x00)
	feed(p, 0x0A, 0x00, 0x0B, 0x00)

	assert.Equal(t, []event{
		syncEvent(),
		writeEvent(0x0100, 0x000A),
		writeEvent(0x0102, 0x000B),
	}, rec.events)
	assert.Equal(t, StateDataLow, p.State())
}

func TestEncodeFrame_RoundTrips(t *testing.T) {
	writes := []Write{
		{Address: 0x1000, Value: 1},
		{Address: 0x1002, Value: 2},
		{Address: 0x1010, Value: 3},
	}

	p, rec := newTestParser()
	feed(p, EncodeFrame(writes)...)

	want := []event{syncEvent()}
	for _, w := range writes {
		want = append(want, writeEvent(w.Address, w.Value))
	}
	assert.Equal(t, want, rec.events)

	// Two groups: 0x1000 (2 values) and 0x1010 (1 value).
	assert.Len(t, EncodeFrame(writes), 4+(4+4)+(4+2))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "wait_for_sync", StateWaitForSync.String())
	assert.Equal(t, "data_high", StateDataHigh.String())
	assert.Equal(t, "unknown", State(99).String())
}

func BenchmarkParser_Feed(b *testing.B) {
	var writes []Write
	for a := uint16(0x1000); a < 0x1400; a += 2 {
		writes = append(writes, Write{Address: a, Value: a})
	}
	frame := EncodeFrame(writes)
	p := NewParser(NewRegistry())

	b.SetBytes(int64(len(frame)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Write(frame)
	}
}
