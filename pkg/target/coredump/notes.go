package coredump

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Note types found in Linux core files.
const (
	ntPrstatus = 1
	ntFile     = 0x46494c45 // "FILE"
)

// fileMapping is one entry of the NT_FILE note.
type fileMapping struct {
	start, end uint64
	offset     uint64 // in bytes
	path       string
}

// coreNotes are the notes the adapter understands, in file order.
type coreNotes struct {
	prstatus [][]byte
	files    []fileMapping
}

var errTruncatedNote = errors.New("truncated note")

// parseNotes walks the notes of one PT_NOTE segment. Names and
// descriptors are padded to 4 bytes.
func parseNotes(data []byte, order binary.ByteOrder, notes *coreNotes) error {
	for len(data) > 0 {
		if len(data) < 12 {
			return errTruncatedNote
		}
		namesz := uint64(order.Uint32(data[0:]))
		descsz := uint64(order.Uint32(data[4:]))
		typ := order.Uint32(data[8:])
		data = data[12:]

		nameEnd := align4(namesz)
		if nameEnd > uint64(len(data)) {
			return errTruncatedNote
		}
		name := string(bytes.TrimRight(data[:namesz], "\x00"))
		data = data[nameEnd:]

		descEnd := align4(descsz)
		if descsz > uint64(len(data)) {
			return errTruncatedNote
		}
		desc := data[:descsz:descsz]
		data = data[min(descEnd, uint64(len(data))):]

		if name != "CORE" {
			continue
		}
		switch typ {
		case ntPrstatus:
			notes.prstatus = append(notes.prstatus, desc)
		case ntFile:
			files, err := parseFileNote(desc, order)
			if err != nil {
				return err
			}
			notes.files = append(notes.files, files...)
		}
	}
	return nil
}

func align4(n uint64) uint64 {
	return (n + 3) &^ 3
}

// parseFileNote decodes NT_FILE: a count and page size, count
// (start, end, page offset) triples, then count NUL-terminated paths.
func parseFileNote(desc []byte, order binary.ByteOrder) ([]fileMapping, error) {
	if len(desc) < 16 {
		return nil, fmt.Errorf("NT_FILE: %w", errTruncatedNote)
	}
	count := order.Uint64(desc[0:])
	pageSize := order.Uint64(desc[8:])
	desc = desc[16:]
	if count > uint64(len(desc))/24 {
		return nil, fmt.Errorf("NT_FILE: %d entries do not fit in %d bytes", count, len(desc))
	}

	files := make([]fileMapping, count)
	for i := range files {
		files[i] = fileMapping{
			start:  order.Uint64(desc[0:]),
			end:    order.Uint64(desc[8:]),
			offset: order.Uint64(desc[16:]) * pageSize,
		}
		desc = desc[24:]
	}
	for i := range files {
		n := bytes.IndexByte(desc, 0)
		if n < 0 {
			return nil, fmt.Errorf("NT_FILE: path %d: %w", i, errTruncatedNote)
		}
		files[i].path = string(desc[:n])
		desc = desc[n+1:]
	}
	return files, nil
}
