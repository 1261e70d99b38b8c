// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"encoding/binary"
	"fmt"

	"cnetflow/common/byteorder"
	"cnetflow/inlet/flow/decoder"
)

// VariableLength is the length of an IPFIX variable-length field.
const VariableLength = 0xffff

// enterpriseBit flags a field type followed by an enterprise number.
const enterpriseBit = 0x8000

// Family tells how a template is encoded on the wire.
type Family int

const (
	// FamilyV9 is the NetFlow v9 encoding: type and length for each field.
	FamilyV9 Family = iota
	// FamilyIPFIX adds enterprise numbers to the NetFlow v9 encoding.
	FamilyIPFIX
)

func (f Family) String() string {
	switch f {
	case FamilyV9:
		return "v9"
	case FamilyIPFIX:
		return "ipfix"
	}
	return "unknown"
}

// Field is a template field.
type Field struct {
	Type             uint16 `json:"type"`
	Length           uint16 `json:"length"`
	EnterpriseNumber uint32 `json:"enterprise_number,omitempty"`
	Enterprise       bool   `json:"enterprise,omitempty"`
}

// Template describes the layout of data records. It is immutable once
// built: updates create a new template.
type Template struct {
	ID     uint16  `json:"id"`
	Fields []Field `json:"fields"`
	// MinLength is the length of a record when variable-length fields
	// are empty.
	MinLength int `json:"min_length"`
}

// RecordLength returns the length of a record and false if the
// template contains variable-length fields.
func (t *Template) RecordLength() (int, bool) {
	for _, f := range t.Fields {
		if f.Length == VariableLength {
			return 0, false
		}
	}
	return t.MinLength, true
}

// ParseTemplate decodes one template record at the start of b. It
// returns the template and the number of bytes consumed. A template
// with a field count of 0 is returned with no field (IPFIX withdrawal).
func ParseTemplate(family Family, b []byte) (*Template, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("template header truncated: %w", decoder.ErrMalformed)
	}
	t := &Template{ID: byteorder.Uint16(b[0:2])}
	count := int(byteorder.Uint16(b[2:4]))
	offset := 4
	if count > 0 {
		t.Fields = make([]Field, 0, count)
	}
	for range count {
		if offset+4 > len(b) {
			return nil, 0, fmt.Errorf("template %d truncated: %w", t.ID, decoder.ErrMalformed)
		}
		f := Field{
			Type:   byteorder.Uint16(b[offset : offset+2]),
			Length: byteorder.Uint16(b[offset+2 : offset+4]),
		}
		offset += 4
		if family == FamilyIPFIX && f.Type&enterpriseBit != 0 {
			if offset+4 > len(b) {
				return nil, 0, fmt.Errorf("template %d truncated: %w", t.ID, decoder.ErrMalformed)
			}
			f.Type &^= enterpriseBit
			f.Enterprise = true
			f.EnterpriseNumber = byteorder.Uint32(b[offset : offset+4])
			offset += 4
		}
		if f.Length == VariableLength {
			if family != FamilyIPFIX {
				return nil, 0, fmt.Errorf("template %d has a variable-length field: %w", t.ID, decoder.ErrMalformed)
			}
			t.MinLength++
		} else {
			t.MinLength += int(f.Length)
		}
		t.Fields = append(t.Fields, f)
	}
	return t, offset, nil
}

// ParseRawTemplate decodes a complete template encoding, as returned by
// Encode().
func ParseRawTemplate(family Family, b []byte) (*Template, error) {
	t, n, err := ParseTemplate(family, b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, fmt.Errorf("%d trailing bytes after template %d: %w", len(b)-n, t.ID, decoder.ErrMalformed)
	}
	return t, nil
}

// EncodedLength returns the length of the wire encoding of the template.
func (t *Template) EncodedLength() int {
	n := 4 + 4*len(t.Fields)
	for _, f := range t.Fields {
		if f.Enterprise {
			n += 4
		}
	}
	return n
}

// Encode writes the wire encoding of the template into b, which should
// be at least EncodedLength() long.
func (t *Template) Encode(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], t.ID)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(t.Fields)))
	offset := 4
	for _, f := range t.Fields {
		typ := f.Type
		if f.Enterprise {
			typ |= enterpriseBit
		}
		binary.BigEndian.PutUint16(b[offset:offset+2], typ)
		binary.BigEndian.PutUint16(b[offset+2:offset+4], f.Length)
		offset += 4
		if f.Enterprise {
			binary.BigEndian.PutUint32(b[offset:offset+4], f.EnterpriseNumber)
			offset += 4
		}
	}
}

// Bytes returns the wire encoding of the template.
func (t *Template) Bytes() []byte {
	b := make([]byte, t.EncodedLength())
	t.Encode(b)
	return b
}

// sameEncoding tells if the template is encoded as raw. It does not
// allocate.
func (t *Template) sameEncoding(raw []byte) bool {
	if len(raw) != t.EncodedLength() ||
		byteorder.Uint16(raw[0:2]) != t.ID ||
		int(byteorder.Uint16(raw[2:4])) != len(t.Fields) {
		return false
	}
	offset := 4
	for _, f := range t.Fields {
		typ := f.Type
		if f.Enterprise {
			typ |= enterpriseBit
		}
		if byteorder.Uint16(raw[offset:offset+2]) != typ || byteorder.Uint16(raw[offset+2:offset+4]) != f.Length {
			return false
		}
		offset += 4
		if f.Enterprise {
			if byteorder.Uint32(raw[offset:offset+4]) != f.EnterpriseNumber {
				return false
			}
			offset += 4
		}
	}
	return true
}
