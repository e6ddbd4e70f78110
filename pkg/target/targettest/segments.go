package targettest

import (
	"fmt"
	"sort"
)

// segment is one contiguous mapped range of target memory.
type segment struct {
	addr uint64
	data []byte
}

func (s segment) String() string {
	return fmt.Sprintf("segment{addr:0x%x, size:0x%x}", s.addr, len(s.data))
}

func (s segment) end() uint64 {
	return s.addr + uint64(len(s.data))
}

func (s segment) contains(addr uint64) bool {
	return s.addr <= addr && addr < s.end()
}

// segments is kept sorted by address with no overlaps.
type segments []segment

// find returns the segment containing addr.
func (ss segments) find(addr uint64) (segment, bool) {
	// Binary search for an upper-bound segment, then check
	// if the previous segment contains addr.
	k := sort.Search(len(ss), func(k int) bool {
		return addr < ss[k].addr
	})
	k--
	if k >= 0 && ss[k].contains(addr) {
		return ss[k], true
	}
	return segment{}, false
}

// copyOut fills buf from addr, walking across adjacent segments.
func (ss segments) copyOut(addr uint64, buf []byte) bool {
	for len(buf) > 0 {
		s, ok := ss.find(addr)
		if !ok {
			return false
		}
		n := copy(buf, s.data[addr-s.addr:])
		buf = buf[n:]
		addr += uint64(n)
	}
	return true
}

// insert maps data at addr. Bytes already mapped in the range are overwritten.
func (ss *segments) insert(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	end := addr + uint64(len(data))
	if end < addr {
		return fmt.Errorf("segment at 0x%x with size 0x%x wraps the address space", addr, len(data))
	}

	// Carve existing segments around the new range, then insert it.
	out := make(segments, 0, len(*ss)+1)
	for _, s := range *ss {
		if s.end() <= addr || s.addr >= end {
			out = append(out, s)
			continue
		}
		if s.addr < addr {
			out = append(out, segment{addr: s.addr, data: s.data[:addr-s.addr]})
		}
		if s.end() > end {
			out = append(out, segment{addr: end, data: s.data[end-s.addr:]})
		}
	}
	out = append(out, segment{addr: addr, data: append([]byte(nil), data...)})
	sort.Slice(out, func(i, k int) bool { return out[i].addr < out[k].addr })
	*ss = out
	return nil
}
