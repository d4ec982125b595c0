// Package exportstream decodes the simulator export byte stream.
//
// The stream is a sequence of frames. Each frame starts with a sync marker
// of four 0x55 bytes and carries one or more groups:
//
//	address (2 bytes, little-endian)
//	count   (2 bytes, little-endian, number of data bytes that follow)
//	data    (count bytes, little-endian 16-bit values)
//
// Values inside one group land on consecutive even addresses
// (address, address+2, ...). The address 0x5555 never starts a group; it is
// what the parser sees when the sync marker arrives in the address position.
//
// The Parser has no error path. Corruption, dropped bytes and fresh
// connections are healed by the sync marker: four consecutive 0x55 bytes
// anywhere in the stream re-anchor the parser at the start of a group and
// produce one frame sync event.
//
// Decoded writes and frame syncs fan out through a Registry of Listeners.
// Parser, Registry and the Listeners are driven from one goroutine; see the
// bridge package for the run loop.
//
// Usage:
//
//	reg := exportstream.NewRegistry()
//	reg.Register(led)
//	reg.Register(display)
//	p := exportstream.NewParser(reg)
//	for _, b := range chunk {
//	    p.Feed(b)
//	}
package exportstream
