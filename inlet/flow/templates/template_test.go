// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"errors"
	"testing"

	"cnetflow/common/helpers"
	"cnetflow/inlet/flow/decoder"
)

func TestParseTemplate(t *testing.T) {
	cases := []struct {
		Pos      helpers.Pos
		Family   Family
		Input    []byte
		Expected *Template
		Consumed int
		Error    bool
	}{
		{
			Pos:    helpers.Mark(),
			Family: FamilyV9,
			Input: []byte{
				0x01, 0x00, 0x00, 0x02, // ID 256, 2 fields
				0x00, 0x08, 0x00, 0x04, // srcIPv4, 4
				0x00, 0x01, 0x00, 0x04, // octets, 4
			},
			Expected: &Template{
				ID: 256,
				Fields: []Field{
					{Type: 8, Length: 4},
					{Type: 1, Length: 4},
				},
				MinLength: 8,
			},
			Consumed: 12,
		}, {
			Pos:    helpers.Mark(),
			Family: FamilyIPFIX,
			Input: []byte{
				0x01, 0x01, 0x00, 0x03, // ID 257, 3 fields
				0x00, 0x08, 0x00, 0x04, // srcIPv4, 4
				0x80, 0x64, 0x00, 0x02, // enterprise field 100, 2
				0x00, 0x00, 0x73, 0x5c, // PEN 29532
				0x00, 0x52, 0xff, 0xff, // interfaceName, variable
				0xaa, 0xbb, // trailing
			},
			Expected: &Template{
				ID: 257,
				Fields: []Field{
					{Type: 8, Length: 4},
					{Type: 100, Length: 2, Enterprise: true, EnterpriseNumber: 29532},
					{Type: 82, Length: VariableLength},
				},
				MinLength: 7,
			},
			Consumed: 20,
		}, {
			Pos:      helpers.Mark(),
			Family:   FamilyIPFIX,
			Input:    []byte{0x01, 0x02, 0x00, 0x00},
			Expected: &Template{ID: 258},
			Consumed: 4,
		}, {
			Pos:    helpers.Mark(),
			Family: FamilyV9,
			Input: []byte{
				0x01, 0x00, 0x00, 0x01,
				0x00, 0x52, 0xff, 0xff,
			},
			Error: true,
		}, {
			Pos:    helpers.Mark(),
			Family: FamilyV9,
			Input: []byte{
				0x01, 0x00, 0x00, 0x02,
				0x00, 0x08, 0x00, 0x04,
			},
			Error: true,
		}, {
			Pos:    helpers.Mark(),
			Family: FamilyIPFIX,
			Input: []byte{
				0x01, 0x00, 0x00, 0x01,
				0x80, 0x64, 0x00, 0x02,
				0x00, 0x00,
			},
			Error: true,
		}, {
			Pos:    helpers.Mark(),
			Family: FamilyIPFIX,
			Input:  []byte{0x01, 0x00},
			Error:  true,
		},
	}
	for _, tc := range cases {
		got, consumed, err := ParseTemplate(tc.Family, tc.Input)
		if tc.Error {
			if !errors.Is(err, decoder.ErrMalformed) {
				t.Errorf("%sParseTemplate() error:\n%+v", tc.Pos, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%sParseTemplate() error:\n%+v", tc.Pos, err)
			continue
		}
		if consumed != tc.Consumed {
			t.Errorf("%sParseTemplate() consumed %d bytes, expected %d", tc.Pos, consumed, tc.Consumed)
		}
		if diff := helpers.Diff(got, tc.Expected); diff != "" {
			t.Errorf("%sParseTemplate() (-got, +want):\n%s", tc.Pos, diff)
		}
		if len(got.Fields) == 0 {
			continue
		}
		raw := got.Bytes()
		if diff := helpers.Diff(raw, tc.Input[:consumed]); diff != "" {
			t.Errorf("%sBytes() (-got, +want):\n%s", tc.Pos, diff)
		}
		if !got.sameEncoding(tc.Input[:consumed]) {
			t.Errorf("%ssameEncoding() == false", tc.Pos)
		}
		again, err := ParseRawTemplate(tc.Family, raw)
		if err != nil {
			t.Errorf("%sParseRawTemplate() error:\n%+v", tc.Pos, err)
		} else if diff := helpers.Diff(again, got); diff != "" {
			t.Errorf("%sParseRawTemplate() (-got, +want):\n%s", tc.Pos, diff)
		}
	}
}

func TestRecordLength(t *testing.T) {
	fixed := &Template{
		Fields:    []Field{{Type: 8, Length: 4}, {Type: 1, Length: 8}},
		MinLength: 12,
	}
	if l, ok := fixed.RecordLength(); !ok || l != 12 {
		t.Errorf("RecordLength() == %d, %v, expected 12, true", l, ok)
	}
	variable := &Template{
		Fields:    []Field{{Type: 8, Length: 4}, {Type: 82, Length: VariableLength}},
		MinLength: 5,
	}
	if _, ok := variable.RecordLength(); ok {
		t.Error("RecordLength() == true for a variable-length template")
	}
}

func TestSameEncoding(t *testing.T) {
	tpl := &Template{
		ID:        300,
		Fields:    []Field{{Type: 8, Length: 4}, {Type: 12, Length: 4}},
		MinLength: 8,
	}
	raw := tpl.Bytes()
	other := &Template{
		ID:        300,
		Fields:    []Field{{Type: 8, Length: 4}, {Type: 12, Length: 16}},
		MinLength: 20,
	}
	if other.sameEncoding(raw) {
		t.Error("sameEncoding() == true for different lengths")
	}
	shorter := &Template{
		ID:        300,
		Fields:    []Field{{Type: 8, Length: 4}},
		MinLength: 4,
	}
	if shorter.sameEncoding(raw) {
		t.Error("sameEncoding() == true for different field counts")
	}
	renamed := &Template{ID: 301, Fields: tpl.Fields, MinLength: 8}
	if renamed.sameEncoding(raw) {
		t.Error("sameEncoding() == true for different IDs")
	}
	got := testing.AllocsPerRun(100, func() {
		tpl.sameEncoding(raw)
	})
	if got != 0 {
		t.Errorf("sameEncoding() allocates %.0f times", got)
	}
}

func TestKey(t *testing.T) {
	key := Key{
		Exporter:   decoder.ExporterID(0xc0000201),
		TemplateID: 260,
	}
	b := key.Bytes()
	if diff := helpers.Diff(b[:], []byte{0xc0, 0x00, 0x02, 0x01, 0x01, 0x04}); diff != "" {
		t.Errorf("Bytes() (-got, +want):\n%s", diff)
	}
	got, err := KeyFromBytes(b[:])
	if err != nil {
		t.Fatalf("KeyFromBytes() error:\n%+v", err)
	}
	if got != key {
		t.Errorf("KeyFromBytes() == %v, expected %v", got, key)
	}
	if _, err := KeyFromBytes(b[:4]); err == nil {
		t.Error("KeyFromBytes() did not error on short input")
	}
	if got := key.String(); got != "192.0.2.1-260" {
		t.Errorf("String() == %q", got)
	}
}
