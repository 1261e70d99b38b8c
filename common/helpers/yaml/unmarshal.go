// SPDX-FileCopyrightText: 2023 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package yaml wraps gopkg.in/yaml.v3 to read configuration files split
// with the "!include" tag.
package yaml

import (
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unmarshal decodes the first document found within the in byte slice and
// assigns decoded values into the out value.
func Unmarshal(in []byte, out interface{}) (err error) {
	return yaml.Unmarshal(in, out)
}

// UnmarshalWithInclude decodes the file named input from fsys into out.
// A node tagged with "!include" is replaced by the content of the file
// it names, relative to fsys. At the top level, keys starting with a dot
// are dropped: they are meant to hold anchors.
func UnmarshalWithInclude(fsys fs.FS, input string, out interface{}) error {
	root, err := parseFile(fsys, input)
	if err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	return root.Decode(out)
}

// parseFile parses a file and resolves its includes. It returns nil for
// an empty document.
func parseFile(fsys fs.FS, input string) (*yaml.Node, error) {
	content, err := fs.ReadFile(fsys, input)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", input, err)
	}
	var document yaml.Node
	if err := yaml.Unmarshal(content, &document); err != nil {
		return nil, fmt.Errorf("in %s: %w", input, err)
	}
	if document.Kind == 0 {
		return nil, nil
	}
	root := &document
	if root.Kind == yaml.DocumentNode {
		root = root.Content[0]
	}
	root = dropHiddenKeys(root)
	if err := resolveIncludes(fsys, input, root); err != nil {
		return nil, err
	}
	return root, nil
}

func isStringKey(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!str"
}

// dropHiddenKeys removes keys starting with a dot from a mapping. A
// mapping left with a single empty key is replaced by its value.
func dropHiddenKeys(node *yaml.Node) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return node
	}
	kept := node.Content[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if isStringKey(key) && strings.HasPrefix(key.Value, ".") {
			continue
		}
		kept = append(kept, key, node.Content[i+1])
	}
	node.Content = kept
	if len(kept) == 2 && isStringKey(kept[0]) && kept[0].Value == "" {
		return kept[1]
	}
	return node
}

// resolveIncludes replaces, in place, each node tagged with "!include"
// below node by the content of the named file.
func resolveIncludes(fsys fs.FS, input string, node *yaml.Node) error {
	if node.Tag != "!include" {
		for _, child := range node.Content {
			if err := resolveIncludes(fsys, input, child); err != nil {
				return err
			}
		}
		return nil
	}
	switch {
	case node.Alias != nil:
		return fmt.Errorf("at line %d of %s, no alias is allowed for !include", node.Line, input)
	case len(node.Content) > 0:
		return fmt.Errorf("at line %d of %s, no content is allowed for !include", node.Line, input)
	}
	included, err := parseFile(fsys, node.Value)
	if err != nil {
		return fmt.Errorf("at line %d of %s: %w", node.Line, input, err)
	}
	if included == nil {
		included = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}
	}
	*node = *included
	return nil
}
