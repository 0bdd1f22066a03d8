// Package record implements the persisted cache record for one unit.
//
// Wire format:
//
//	categoryPresent  1 byte, 0 or 1
//	category         uvarint length + UTF-8 bytes (only when present)
//	projectVersion   version.Token binary encoding
//
// Absence of a record (no bytes stored) is distinct from categoryPresent=0.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/version"
)

// DataKey is the storage key the records are written under
const DataKey = "DesignerAttributeData"

// ErrCorrupt is returned for records that cannot be decoded
var ErrCorrupt = errors.New("corrupt record")

// Record is the durable cache entry for one unit
type Record struct {
	Category       model.Category
	ProjectVersion version.Token
}

// Encode serializes a record
func Encode(r Record) []byte {
	buf := make([]byte, 0, 32)
	value, present := r.Category.Value()
	if present {
		buf = append(buf, 1)
		buf = binary.AppendUvarint(buf, uint64(len(value)))
		buf = append(buf, value...)
	} else {
		buf = append(buf, 0)
	}
	// AppendBinary never fails for tokens
	buf, _ = r.ProjectVersion.AppendBinary(buf)
	return buf
}

// Decode parses bytes written by Encode
func Decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, fmt.Errorf("%w: empty", ErrCorrupt)
	}

	var rec Record
	pos := 1
	switch data[0] {
	case 0:
		rec.Category = model.NoCategory
	case 1:
		size, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return Record{}, fmt.Errorf("%w: bad category length", ErrCorrupt)
		}
		pos += n
		// The length is bounded by the input, so any category Encode wrote fits
		if size > uint64(len(data)-pos) {
			return Record{}, fmt.Errorf("%w: truncated category", ErrCorrupt)
		}
		raw := data[pos : pos+int(size)]
		if !utf8.Valid(raw) {
			return Record{}, fmt.Errorf("%w: category is not UTF-8", ErrCorrupt)
		}
		rec.Category = model.SomeCategory(string(raw))
		pos += int(size)
	default:
		return Record{}, fmt.Errorf("%w: presence flag %d", ErrCorrupt, data[0])
	}

	tok, n, err := version.Read(data[pos:])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	pos += n
	if pos != len(data) {
		return Record{}, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(data)-pos)
	}
	rec.ProjectVersion = tok
	return rec, nil
}
