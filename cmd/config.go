// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"cnetflow/common/helpers"
	"cnetflow/common/helpers/yaml"
)

// ConfigRelatedOptions are command-line options related to handling a
// configuration file.
type ConfigRelatedOptions struct {
	Path       string
	Dump       bool
	BeforeDump func()
}

// Parse parses the configuration file (if present) and the
// environment variables into the provided configuration.
func (c ConfigRelatedOptions) Parse(out io.Writer, component string, config interface{}) error {
	var rawConfig map[string]interface{}
	if cfgFile := c.Path; cfgFile != "" {
		cfgFile, err := filepath.Abs(cfgFile)
		if err != nil {
			return fmt.Errorf("cannot get absolute path for %q: %w", c.Path, err)
		}
		dirname, filename := filepath.Split(cfgFile)
		if err := yaml.UnmarshalWithInclude(os.DirFS(dirname), filename, &rawConfig); err != nil {
			return fmt.Errorf("unable to parse configuration file: %w", err)
		}
	}

	// Parse provided configuration
	decoder, err := mapstructure.NewDecoder(helpers.GetMapStructureDecoderConfig(config))
	if err != nil {
		return fmt.Errorf("unable to create configuration decoder: %w", err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return fmt.Errorf("unable to parse configuration: %w", err)
	}

	// Override with environment variables
	prefix := strings.ToUpper(fmt.Sprintf("CNETFLOW_%s_", component))
	for _, keyval := range os.Environ() {
		key, value, ok := strings.Cut(keyval, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		override := environmentOverride(strings.Split(strings.TrimPrefix(key, prefix), "_"), value)
		if err := decoder.Decode(override); err != nil {
			return fmt.Errorf("unable to parse override %q: %w", key, err)
		}
	}

	// Validate and dump configuration if requested
	if c.BeforeDump != nil {
		c.BeforeDump()
	}
	if c.Dump {
		output, err := yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("unable to dump configuration: %w", err)
		}
		out.Write([]byte("---\n"))
		out.Write(output)
		out.Write([]byte("\n"))
	}
	if err := helpers.Validate.Struct(config); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid configuration:\n%w", verr)
		}
		return fmt.Errorf("unable to validate configuration: %w", err)
	}
	return nil
}

// environmentOverride turns the path of an environment variable into a
// raw configuration. SINK_BACKENDS_1_TABLE=flows becomes
// {"sink": {"backends": [nil, {"table": "flows"}]}}. Missing slice
// elements are left untouched when decoded.
func environmentOverride(path []string, value string) interface{} {
	var result interface{} = value
	for _, component := range slices.Backward(path) {
		if index, err := strconv.Atoi(component); err == nil && index >= 0 {
			elements := make([]interface{}, index+1)
			elements[index] = result
			result = elements
		} else {
			result = map[string]interface{}{component: result}
		}
	}
	return result
}
