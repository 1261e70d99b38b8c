// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"encoding/binary"
	"fmt"

	"cnetflow/inlet/flow/decoder"
)

// KeyLength is the length of the binary encoding of a key.
const KeyLength = 6

// Key identifies a template: the exporter and the template identifier.
type Key struct {
	Exporter   decoder.ExporterID
	TemplateID uint16
}

// Bytes returns the stable binary encoding of the key.
func (k Key) Bytes() [KeyLength]byte {
	var b [KeyLength]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(k.Exporter))
	binary.BigEndian.PutUint16(b[4:6], k.TemplateID)
	return b
}

// KeyFromBytes decodes the binary encoding of a key.
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) != KeyLength {
		return Key{}, fmt.Errorf("invalid key length %d", len(b))
	}
	return Key{
		Exporter:   decoder.ExporterID(binary.BigEndian.Uint32(b[0:4])),
		TemplateID: binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%d", k.Exporter, k.TemplateID)
}
