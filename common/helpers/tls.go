// SPDX-FileCopyrightText: 2024 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// TLSConfiguration defines TLS configuration.
type TLSConfiguration struct {
	// Enable says if TLS should be used to connect to remote servers.
	Enable bool `validate:"required_with=CAFile CertFile KeyFile"`
	// SkipVerify removes validity checks of remote certificates
	SkipVerify bool
	// CAFile tells the location of the CA certificate to check the
	// server certificate. If empty, the system CA certificates are
	// used instead.
	CAFile string
	// CertFile tells the location of the user certificate if any.
	CertFile string `validate:"required_with=KeyFile"`
	// KeyFile tells the location of the user key if any. When empty,
	// the key is expected in CertFile.
	KeyFile string
	// ServerName overrides the name used to verify the server
	// certificate.
	ServerName string
}

// MakeTLSConfig creates a *tls.Config from a TLSConfiguration. It
// returns nil when TLS is disabled. Certificates are loaded from disk.
func (config TLSConfiguration) MakeTLSConfig() (*tls.Config, error) {
	if !config.Enable {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.SkipVerify,
		ServerName:         config.ServerName,
		MinVersion:         tls.VersionTLS12,
	}
	if config.CAFile != "" {
		pem, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read CA certificate %q: %w", config.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("cannot parse CA certificate %q", config.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if config.CertFile != "" {
		keyFile := config.KeyFile
		if keyFile == "" {
			keyFile = config.CertFile
		}
		cert, err := tls.LoadX509KeyPair(config.CertFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read client certificate %q: %w", config.CertFile, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// tlsUnmarshallerHook accepts "verify" as the negation of "skip-verify".
func tlsUnmarshallerHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Value) (any, error) {
		if to.Type() != reflect.TypeFor[TLSConfiguration]() || from.Kind() != reflect.Map || from.IsNil() {
			return from.Interface(), nil
		}
		var verify, skipVerify reflect.Value
		for _, key := range from.MapKeys() {
			name := ElemOrIdentity(key)
			if name.Kind() != reflect.String {
				return from.Interface(), nil
			}
			switch {
			case MapStructureMatchName(name.String(), "Verify"):
				verify = key
			case MapStructureMatchName(name.String(), "SkipVerify"):
				skipVerify = key
			}
		}
		if !verify.IsValid() {
			return from.Interface(), nil
		}
		if skipVerify.IsValid() {
			return nil, fmt.Errorf("cannot have both %q and %q",
				ElemOrIdentity(verify).String(), ElemOrIdentity(skipVerify).String())
		}
		value := ElemOrIdentity(from.MapIndex(verify))
		if value.Kind() != reflect.Bool {
			return from.Interface(), nil
		}
		from.SetMapIndex(verify, reflect.Value{})
		from.SetMapIndex(reflect.ValueOf("skip-verify"), reflect.ValueOf(!value.Bool()))
		return from.Interface(), nil
	}
}

func init() {
	RegisterMapstructureUnmarshallerHook(tlsUnmarshallerHook())
}
