// Package disasm decodes single machine instructions from target memory.
package disasm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/coral-mesh/typescope/internal/memory"
	"github.com/coral-mesh/typescope/pkg/errkind"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Address  uint64
	Bytes    []byte
	Mnemonic string
	Text     string
}

// Len returns the encoded length in bytes.
func (i Instruction) Len() int { return len(i.Bytes) }

func (i Instruction) String() string {
	return fmt.Sprintf("0x%016x: %s", i.Address, i.Text)
}

// SymbolLookup names an address for branch targets. It returns an empty
// name when nothing is known.
type SymbolLookup func(addr uint64) (name string, base uint64)

// MaxLen returns the longest encoding on arch, or zero when arch is not
// supported.
func MaxLen(arch string) int {
	switch arch {
	case "amd64":
		return 15
	case "arm64":
		return 4
	default:
		return 0
	}
}

// Decode decodes the instruction at the start of code, which was read from
// pc.
func Decode(arch string, pc uint64, code []byte, lookup SymbolLookup) (Instruction, error) {
	const op = "decode instruction"

	switch arch {
	case "amd64":
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			return Instruction{}, errkind.New(errkind.InvalidArgument, op, "0x%x: %#x: %v", pc, code[:min(len(code), 15)], err)
		}
		return Instruction{
			Address:  pc,
			Bytes:    append([]byte(nil), code[:inst.Len]...),
			Mnemonic: strings.ToLower(inst.Op.String()),
			Text:     x86asm.IntelSyntax(inst, pc, x86asm.SymLookup(lookup)),
		}, nil
	case "arm64":
		if len(code) < 4 {
			return Instruction{}, errkind.New(errkind.InvalidArgument, op, "0x%x: short instruction", pc)
		}
		inst, err := arm64asm.Decode(code[:4])
		if err != nil {
			return Instruction{}, errkind.New(errkind.InvalidArgument, op, "0x%x: %#x: %v", pc, code[:4], err)
		}
		return Instruction{
			Address:  pc,
			Bytes:    append([]byte(nil), code[:4]...),
			Mnemonic: strings.ToLower(inst.Op.String()),
			Text:     arm64asm.GNUSyntax(inst),
		}, nil
	default:
		return Instruction{}, errkind.New(errkind.InvalidArgument, op, "unsupported architecture %q", arch)
	}
}

// At reads and decodes the instruction at pc. The read never crosses into
// the next page, so an instruction at the end of a mapped code page still
// decodes when it fits.
func At(ctx context.Context, r *memory.Reader, pc uint64, lookup SymbolLookup) (Instruction, error) {
	arch := r.Arch().Name
	n := MaxLen(arch)
	if n == 0 {
		return Instruction{}, errkind.New(errkind.InvalidArgument, "decode instruction", "unsupported architecture %q", arch)
	}
	page := uint64(r.Limits().ChunkSize)
	if toPage := page - pc%page; toPage < uint64(n) {
		n = int(toPage)
	}
	code, err := r.Read(ctx, pc, n)
	if err != nil {
		return Instruction{}, err
	}
	return Decode(arch, pc, code, lookup)
}
