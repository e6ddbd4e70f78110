package symbols

import (
	"encoding/binary"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/typescope/pkg/target"
)

// Fingerprint hashes a module list. The result does not depend on the
// order the engine reports modules in.
func Fingerprint(modules []target.Module) uint64 {
	sorted := slices.Clone(modules)
	slices.SortFunc(sorted, func(a, b target.Module) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		switch {
		case a.Base < b.Base:
			return -1
		case a.Base > b.Base:
			return 1
		}
		return 0
	})

	h := xxh3.New()
	var buf [16]byte
	for _, m := range sorted {
		_, _ = h.WriteString(m.Name)
		_, _ = h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[0:], m.Base)
		binary.LittleEndian.PutUint64(buf[8:], m.Size)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
