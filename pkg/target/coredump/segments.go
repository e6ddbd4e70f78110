package coredump

import (
	"fmt"
	"sort"
)

// dataSegment is a range of target memory backed by a mapped file.
type dataSegment struct {
	addr uint64
	data []byte // points into a mapping
}

func (s dataSegment) String() string {
	return fmt.Sprintf("dataSegment{addr:0x%x, size:0x%x}", s.addr, len(s.data))
}

func (s dataSegment) end() uint64 {
	return s.addr + uint64(len(s.data))
}

func (s dataSegment) contains(addr uint64) bool {
	return s.addr <= addr && addr < s.end()
}

// dataSegments is sorted by address and never overlaps.
type dataSegments []dataSegment

func (ss dataSegments) find(addr uint64) (dataSegment, bool) {
	k := sort.Search(len(ss), func(k int) bool {
		return addr < ss[k].addr
	})
	k--
	if k >= 0 && ss[k].contains(addr) {
		return ss[k], true
	}
	return dataSegment{}, false
}

// copyOut fills buf from addr, crossing adjacent segments. It reports
// false if any byte of the range is unmapped.
func (ss dataSegments) copyOut(addr uint64, buf []byte) bool {
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

// fill maps data at addr wherever no segment exists yet. Ranges already
// covered keep their bytes, so core contents win over the executable.
func (ss *dataSegments) fill(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if addr+uint64(len(data)) < addr {
		return fmt.Errorf("segment at 0x%x with size 0x%x wraps the address space", addr, len(data))
	}

	// First segment that ends above addr.
	k := sort.Search(len(*ss), func(k int) bool {
		return (*ss)[k].end() > addr
	})
	var added dataSegments
	for len(data) > 0 {
		if k == len(*ss) {
			added = append(added, dataSegment{addr: addr, data: data})
			break
		}
		next := (*ss)[k]
		if addr < next.addr {
			n := min(next.addr-addr, uint64(len(data)))
			added = append(added, dataSegment{addr: addr, data: data[:n]})
			addr += n
			data = data[n:]
			continue
		}
		// addr is inside next: skip the covered part.
		skip := min(next.end()-addr, uint64(len(data)))
		addr += skip
		data = data[skip:]
		k++
	}
	if len(added) == 0 {
		return nil
	}
	*ss = append(*ss, added...)
	sort.Slice(*ss, func(i, k int) bool { return (*ss)[i].addr < (*ss)[k].addr })
	return nil
}
