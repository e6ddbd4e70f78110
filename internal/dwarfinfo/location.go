package dwarfinfo

import (
	"encoding/binary"
	"fmt"
)

// LocationType describes where a variable lives.
type LocationType int

const (
	LocationUnknown LocationType = iota
	LocationRegister                // Value held in a register, not addressable
	LocationRegisterOffset          // Register value + offset
	LocationFrameBase               // Frame base + offset
	LocationMemory                  // Absolute address
	LocationCFA                     // Canonical frame address
)

// Location represents a parsed DWARF location expression.
type Location struct {
	Type     LocationType
	Register int    // Register number (for LocationRegister and LocationRegisterOffset)
	Offset   int64  // Offset (for LocationFrameBase or register-relative)
	Address  uint64 // Absolute address (for LocationMemory)
}

// DWARF location expression opcodes.
const (
	opAddr         = 0x03 // Constant address
	opReg0         = 0x50 // Register 0
	opReg31        = 0x6f // Register 31
	opBreg0        = 0x70 // Base register 0 + offset
	opBreg31       = 0x8f // Base register 31 + offset
	opRegx         = 0x90 // Register with ULEB128 number
	opFbreg        = 0x91 // Frame base relative
	opBregx        = 0x92 // Register with ULEB128 number + SLEB128 offset
	opCallFrameCFA = 0x9c // Canonical frame address
)

// parseLocationExpr parses a single-operation DWARF location expression.
// Expressions with more than one operation (deref, piece, TLS) are
// rejected since the address they compute depends on more than the
// frame's registers.
func parseLocationExpr(expr []byte, order binary.ByteOrder, addrSize int) (*Location, error) {
	if len(expr) == 0 {
		return nil, fmt.Errorf("empty location expression")
	}

	op := expr[0]
	loc := &Location{}
	n := 1

	switch {
	case op >= opReg0 && op <= opReg31:
		loc.Type = LocationRegister
		loc.Register = int(op - opReg0)

	case op == opRegx:
		regNum, m := decodeULEB128(expr[1:])
		if m == 0 {
			return nil, fmt.Errorf("DW_OP_regx: invalid ULEB128")
		}
		loc.Type = LocationRegister
		loc.Register = int(regNum)
		n += m

	case op == opFbreg:
		offset, m := decodeSLEB128(expr[1:])
		if m == 0 {
			return nil, fmt.Errorf("DW_OP_fbreg: invalid SLEB128")
		}
		loc.Type = LocationFrameBase
		loc.Offset = offset
		n += m

	case op >= opBreg0 && op <= opBreg31:
		offset, m := decodeSLEB128(expr[1:])
		if m == 0 {
			return nil, fmt.Errorf("DW_OP_breg: invalid SLEB128")
		}
		loc.Type = LocationRegisterOffset
		loc.Register = int(op - opBreg0)
		loc.Offset = offset
		n += m

	case op == opBregx:
		regNum, m := decodeULEB128(expr[1:])
		if m == 0 {
			return nil, fmt.Errorf("DW_OP_bregx: invalid ULEB128")
		}
		offset, k := decodeSLEB128(expr[1+m:])
		if k == 0 {
			return nil, fmt.Errorf("DW_OP_bregx: invalid SLEB128")
		}
		loc.Type = LocationRegisterOffset
		loc.Register = int(regNum)
		loc.Offset = offset
		n += m + k

	case op == opCallFrameCFA:
		loc.Type = LocationCFA

	case op == opAddr:
		if len(expr) < 1+addrSize {
			return nil, fmt.Errorf("DW_OP_addr: truncated expression")
		}
		switch addrSize {
		case 4:
			loc.Address = uint64(order.Uint32(expr[1:5]))
		case 8:
			loc.Address = order.Uint64(expr[1:9])
		default:
			return nil, fmt.Errorf("DW_OP_addr: unsupported address size %d", addrSize)
		}
		loc.Type = LocationMemory
		n += addrSize

	default:
		return nil, fmt.Errorf("unsupported location opcode: 0x%02x", op)
	}

	if n != len(expr) {
		return nil, fmt.Errorf("unsupported location expression: %d trailing bytes after 0x%02x", len(expr)-n, op)
	}
	return loc, nil
}

// decodeULEB128 decodes an unsigned LEB128 value.
// Returns the value and number of bytes consumed.
func decodeULEB128(data []byte) (uint64, int) {
	var result uint64
	var shift uint

	for i := 0; i < len(data) && i < 10; i++ {
		b := data[i]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}

	return 0, 0 // Invalid or truncated
}

// decodeSLEB128 decodes a signed LEB128 value.
// Returns the value and number of bytes consumed.
func decodeSLEB128(data []byte) (int64, int) {
	var result int64
	var shift uint

	for i := 0; i < len(data) && i < 10; i++ {
		b := data[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && (b&0x40) != 0 {
				result |= -(1 << shift)
			}
			return result, i + 1
		}
	}

	return 0, 0
}

// String returns a human-readable description of the location.
func (l *Location) String() string {
	switch l.Type {
	case LocationRegister:
		return fmt.Sprintf("reg%d", l.Register)
	case LocationRegisterOffset:
		return fmt.Sprintf("breg%d%+d", l.Register, l.Offset)
	case LocationFrameBase:
		return fmt.Sprintf("fbreg%+d", l.Offset)
	case LocationMemory:
		return fmt.Sprintf("addr:0x%x", l.Address)
	case LocationCFA:
		return "cfa"
	default:
		return "<unknown>"
	}
}

// FrameRegs is the register context of one stack frame: the canonical
// frame address and whichever DWARF-numbered registers are known.
type FrameRegs struct {
	CFA  uint64
	Regs map[int]uint64
}

// address computes the memory address of a variable at loc. ok is false
// when the variable is not in memory or a needed register is unknown.
func (fr FrameRegs) address(loc, frameBase *Location, bias uint64) (uint64, bool) {
	switch loc.Type {
	case LocationMemory:
		return loc.Address + bias, true
	case LocationRegisterOffset:
		reg, ok := fr.Regs[loc.Register]
		if !ok {
			return 0, false
		}
		return reg + uint64(loc.Offset), true
	case LocationCFA:
		return fr.CFA, fr.CFA != 0
	case LocationFrameBase:
		if frameBase == nil {
			return 0, false
		}
		var base uint64
		switch frameBase.Type {
		case LocationCFA:
			if fr.CFA == 0 {
				return 0, false
			}
			base = fr.CFA
		case LocationRegister:
			// DW_OP_regN as a frame base means the register's value.
			reg, ok := fr.Regs[frameBase.Register]
			if !ok {
				return 0, false
			}
			base = reg
		case LocationRegisterOffset:
			reg, ok := fr.Regs[frameBase.Register]
			if !ok {
				return 0, false
			}
			base = reg + uint64(frameBase.Offset)
		default:
			return 0, false
		}
		return base + uint64(loc.Offset), true
	default:
		return 0, false
	}
}
