// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package helpers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

// HTTPEndpointCases describes case for TestHTTPEndpoints
type HTTPEndpointCases []struct {
	Pos         Pos
	Description string
	Method      string
	URL         string
	Header      http.Header
	JSONInput   gin.H

	ContentType string
	StatusCode  int
	FirstLines  []string
	JSONOutput  gin.H
}

// normalizeJSON encodes then decodes the provided value to get what a
// client would see.
func normalizeJSON(t *testing.T, input gin.H) gin.H {
	t.Helper()
	encoded, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("json.Marshal() error:\n%+v", err)
	}
	var output gin.H
	if err := json.Unmarshal(encoded, &output); err != nil {
		t.Fatalf("json.Unmarshal() error:\n%+v", err)
	}
	return output
}

// TestHTTPEndpoints queries HTTP endpoints on the provided server and
// checks status code, content type and body (first lines or JSON).
func TestHTTPEndpoints(t *testing.T, serverAddr net.Addr, cases HTTPEndpointCases) {
	t.Helper()
	for _, tc := range cases {
		desc := tc.Description
		if desc == "" {
			desc = tc.URL
		}
		t.Run(desc, func(t *testing.T) {
			t.Helper()
			if tc.FirstLines != nil && tc.JSONOutput != nil {
				t.Fatalf("%sCannot have both FirstLines and JSONOutput", tc.Pos)
			}
			var body io.Reader
			if tc.JSONInput != nil {
				payload := new(bytes.Buffer)
				if err := json.NewEncoder(payload).Encode(tc.JSONInput); err != nil {
					t.Fatalf("%sEncode() error:\n%+v", tc.Pos, err)
				}
				body = payload
				if tc.Method == "" {
					tc.Method = "POST"
				}
			}
			if tc.Method == "" {
				tc.Method = "GET"
			}
			req, err := http.NewRequest(tc.Method, fmt.Sprintf("http://%s%s", serverAddr, tc.URL), body)
			if err != nil {
				t.Fatalf("%sNewRequest() error:\n%+v", tc.Pos, err)
			}
			if tc.Header != nil {
				req.Header = tc.Header
			}
			if tc.JSONInput != nil {
				req.Header.Add("Content-Type", "application/json")
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s%s %s:\n%+v", tc.Pos, tc.Method, tc.URL, err)
			}
			defer resp.Body.Close()

			if tc.StatusCode == 0 {
				tc.StatusCode = http.StatusOK
			}
			if resp.StatusCode != tc.StatusCode {
				t.Errorf("%s%s %s: got status code %d, not %d",
					tc.Pos, tc.Method, tc.URL, resp.StatusCode, tc.StatusCode)
			}
			if tc.JSONOutput != nil {
				tc.ContentType = "application/json; charset=utf-8"
			}
			if got := resp.Header.Get("Content-Type"); got != tc.ContentType {
				t.Errorf("%s%s %s Content-Type (-got, +want):\n-%s\n+%s",
					tc.Pos, tc.Method, tc.URL, got, tc.ContentType)
			}

			if tc.JSONOutput != nil {
				var got gin.H
				if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
					t.Fatalf("%s%s %s:\n%+v", tc.Pos, tc.Method, tc.URL, err)
				}
				if diff := Diff(got, normalizeJSON(t, tc.JSONOutput)); diff != "" {
					t.Fatalf("%s%s %s (-got, +want):\n%s", tc.Pos, tc.Method, tc.URL, diff)
				}
				return
			}
			if tc.FirstLines == nil {
				tc.FirstLines = []string{}
			}
			scanner := bufio.NewScanner(resp.Body)
			got := []string{}
			for len(got) < len(tc.FirstLines) && scanner.Scan() {
				got = append(got, scanner.Text())
			}
			if diff := Diff(got, tc.FirstLines); diff != "" {
				t.Errorf("%s%s %s (-got, +want):\n%s", tc.Pos, tc.Method, tc.URL, diff)
			}
		})
	}
}
