// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package file

import (
	"net/netip"
	"testing"

	"cnetflow/common/helpers"
)

func TestDefaultConfiguration(t *testing.T) {
	config := DefaultConfiguration().(*Configuration)
	config.Paths = []string{"/path/1", "/path/2"}
	if err := helpers.Validate.Struct(config); err != nil {
		t.Fatalf("validate.Struct() error:\n%+v", err)
	}
}

func TestInvalidConfiguration(t *testing.T) {
	cases := []Configuration{
		{Exporter: netip.MustParseAddr("127.0.0.1")},
		{Paths: []string{"/path/1"}},
		{Paths: []string{""}, Exporter: netip.MustParseAddr("127.0.0.1")},
	}
	for _, tc := range cases {
		if err := helpers.Validate.Struct(tc); err == nil {
			t.Errorf("validate.Struct(%+v) did not error", tc)
		}
	}
}
