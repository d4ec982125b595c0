package exportstream

import (
	"sync/atomic"
)

// Stream framing constants.
const (
	// SyncByte is the marker byte; four in a row form a sync marker.
	SyncByte byte = 0x55

	// SyncLength is the number of consecutive SyncByte values that re-anchor framing.
	SyncLength = 4

	// SyncAddress is the reserved address formed by two SyncBytes.
	// It is never delivered as a write and never starts a group.
	SyncAddress uint16 = 0x5555
)

// State is the parser's position within the framing.
type State uint8

// Parser states.
const (
	StateWaitForSync State = iota
	StateAddressLow
	StateAddressHigh
	StateCountLow
	StateCountHigh
	StateDataLow
	StateDataHigh
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateWaitForSync:
		return "wait_for_sync"
	case StateAddressLow:
		return "address_low"
	case StateAddressHigh:
		return "address_high"
	case StateCountLow:
		return "count_low"
	case StateCountHigh:
		return "count_high"
	case StateDataLow:
		return "data_low"
	case StateDataHigh:
		return "data_high"
	default:
		return "unknown"
	}
}

// Dispatcher receives decoded events from a Parser.
// *Registry implements it.
type Dispatcher interface {
	DispatchWrite(address, value uint16)
	DispatchFrameSync()
}

// Parser is the resynchronising export stream decoder.
//
// Feed must be called from a single goroutine. Stats may be read from any
// goroutine.
type Parser struct {
	dispatch Dispatcher

	state     State
	address   uint16
	count     uint16
	data      uint16
	syncBytes uint8

	bytes    atomic.Uint64
	writes   atomic.Uint64
	syncs    atomic.Uint64
	realigns atomic.Uint64
}

// ParserStats contains decoder counters.
type ParserStats struct {
	Bytes  uint64 `json:"bytes"`
	Writes uint64 `json:"writes"`
	Syncs  uint64 `json:"syncs"`

	// Realigns counts sync markers that arrived while the parser was
	// inside a group rather than waiting for one. Each indicates lost or
	// corrupted bytes upstream.
	Realigns uint64 `json:"realigns"`
}

// NewParser creates a Parser in the WaitForSync state that reports to d.
func NewParser(d Dispatcher) *Parser {
	return &Parser{
		dispatch: d,
		state:    StateWaitForSync,
	}
}

// Feed consumes one byte of the stream.
//
// It never blocks and never fails. Completed values are dispatched as writes
// before Feed returns; a completed sync marker is dispatched as a frame sync.
func (p *Parser) Feed(c byte) {
	p.bytes.Add(1)

	switch p.state {
	case StateWaitForSync:
		// Only the sync marker below leaves this state.

	case StateAddressLow:
		p.address = uint16(c)
		p.state = StateAddressHigh

	case StateAddressHigh:
		p.address |= uint16(c) << 8
		if p.address != SyncAddress {
			p.state = StateCountLow
		} else {
			p.state = StateWaitForSync
		}

	case StateCountLow:
		p.count = uint16(c)
		p.state = StateCountHigh

	case StateCountHigh:
		p.count |= uint16(c) << 8
		p.state = StateDataLow

	case StateDataLow:
		p.data = uint16(c)
		p.count--
		p.state = StateDataHigh

	case StateDataHigh:
		p.data |= uint16(c) << 8
		p.count--
		p.writes.Add(1)
		p.dispatch.DispatchWrite(p.address, p.data)
		p.address += 2
		if p.count == 0 {
			p.state = StateAddressLow
		} else {
			p.state = StateDataLow
		}
	}

	if c == SyncByte {
		p.syncBytes++
	} else {
		p.syncBytes = 0
	}

	if p.syncBytes == SyncLength {
		if p.state != StateWaitForSync {
			p.realigns.Add(1)
		}
		p.state = StateAddressLow
		p.syncBytes = 0
		p.syncs.Add(1)
		p.dispatch.DispatchFrameSync()
	}
}

// Write feeds every byte of b. It always returns len(b), nil so a Parser
// can sit behind io.Copy.
func (p *Parser) Write(b []byte) (int, error) {
	for _, c := range b {
		p.Feed(c)
	}
	return len(b), nil
}

// State returns the current framing state. Not safe for use concurrently with Feed.
func (p *Parser) State() State {
	return p.state
}

// Stats returns a snapshot of the decoder counters.
func (p *Parser) Stats() ParserStats {
	return ParserStats{
		Bytes:    p.bytes.Load(),
		Writes:   p.writes.Load(),
		Syncs:    p.syncs.Load(),
		Realigns: p.realigns.Load(),
	}
}
