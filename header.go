package bagplay

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const lenInBytes = 4

// headerFields is a parsed V1.2 record header: field name to raw value.
type headerFields map[string][]byte

// parseHeader walks the length-prefixed fields of one V1.2 record header.
// Each block is <len: u32 LE><name>=<value> where len covers the name, the
// separator and the value.
func parseHeader(buf []byte) (headerFields, error) {
	fields := make(headerFields)
	for len(buf) > 0 {
		if len(buf) < lenInBytes {
			return nil, errors.New("missing header field length")
		}
		fieldLen := int(binary.LittleEndian.Uint32(buf))
		buf = buf[lenInBytes:]
		if fieldLen > len(buf) {
			return nil, errors.Errorf("header field length %d exceeds remaining %d bytes", fieldLen, len(buf))
		}
		sep := bytes.IndexByte(buf[:fieldLen], '=')
		if sep == -1 {
			return nil, errors.New("header field has no '=' separator")
		}
		name := string(buf[:sep])
		fields[name] = buf[sep+1 : fieldLen]
		buf = buf[fieldLen:]
	}
	return fields, nil
}

// checkField looks a field up and validates its length.  A required field
// that is missing and any field outside [minLen, maxLen] return an error; an
// optional missing field returns (nil, nil).
func checkField(fields headerFields, name string, minLen, maxLen int, required bool) ([]byte, error) {
	value, found := fields[name]
	if !found {
		if required {
			return nil, errors.Errorf("required %s field missing", name)
		}
		return nil, nil
	}
	if len(value) < minLen || len(value) > maxLen {
		return nil, errors.Errorf("field %s is wrong size (%d bytes)", name, len(value))
	}
	return value, nil
}

// fieldUint32 decodes a fixed-width little-endian field value.  The caller
// has already validated the length via checkField.
func fieldUint32(value []byte) uint32 {
	return binary.LittleEndian.Uint32(value)
}
