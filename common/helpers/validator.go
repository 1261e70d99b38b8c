// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

import (
	"net"
	"net/netip"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Validate is a validator instance to be used everywhere.
var Validate *validator.Validate

// isListen validates a "host:port" string used as a listening or remote
// address. The host is optional but must be a valid hostname or IP.
func isListen(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return false
	}
	return host == "" || Validate.Var(host, "hostname_rfc1123") == nil
}

// netipValidation turns netip.Addr and netip.Prefix into strings so
// "required" works on them.
func netipValidation(fl reflect.Value) interface{} {
	switch netIP := fl.Interface().(type) {
	case netip.Addr:
		if netIP.IsValid() {
			return netIP.String()
		}
		return ""
	case netip.Prefix:
		if netIP.IsValid() {
			return netIP.String()
		}
		return ""
	}
	return nil
}

func init() {
	Validate = validator.New()
	Validate.RegisterValidation("listen", isListen)
	Validate.RegisterCustomTypeFunc(netipValidation, netip.Addr{}, netip.Prefix{})
}
