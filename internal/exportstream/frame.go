package exportstream

// AppendSync appends a sync marker to dst.
func AppendSync(dst []byte) []byte {
	return append(dst, SyncByte, SyncByte, SyncByte, SyncByte)
}

// AppendGroup appends one address/count/data group carrying values at
// address, address+2, ... to dst.
//
// The count field is 2*len(values). No check is made that address avoids
// SyncAddress or that the encoded bytes avoid looking like a sync marker.
func AppendGroup(dst []byte, address uint16, values ...uint16) []byte {
	count := uint16(2 * len(values))
	dst = append(dst,
		byte(address), byte(address>>8),
		byte(count), byte(count>>8),
	)
	for _, v := range values {
		dst = append(dst, byte(v), byte(v>>8))
	}
	return dst
}

// Write is one decoded value.
type Write struct {
	Address uint16 `json:"address"`
	Value   uint16 `json:"value"`
}

// EncodeFrame builds a complete frame: a sync marker followed by one group
// per run of consecutive addresses in writes.
//
// writes must be sorted by address. Adjacent entries two apart are merged
// into a single group.
func EncodeFrame(writes []Write) []byte {
	out := AppendSync(make([]byte, 0, SyncLength+len(writes)*6))

	for i := 0; i < len(writes); {
		j := i + 1
		for j < len(writes) && writes[j].Address == writes[j-1].Address+2 {
			j++
		}
		values := make([]uint16, 0, j-i)
		for _, w := range writes[i:j] {
			values = append(values, w.Value)
		}
		out = AppendGroup(out, writes[i].Address, values...)
		i = j
	}
	return out
}
