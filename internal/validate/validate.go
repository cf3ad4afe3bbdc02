// Package validate checks proposal files for YAML syntax errors before
// they are merged, reporting every error position rather than only the
// first one a decoder would stop at.
package validate

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	tsyaml "github.com/smacker/go-tree-sitter/yaml"
)

// ValidationError locates a syntax error in a file.
type ValidationError struct {
	File    string
	Line    uint32 // 0-indexed
	Column  uint32 // 0-indexed
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line+1, e.Column+1, e.Message)
}

// YAML returns the first syntax error in content, or nil.
func YAML(content []byte, file string) error {
	errs, err := YAMLErrors(content, file)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	return &errs[0]
}

// YAMLErrors returns all ERROR and MISSING node locations in content.
func YAMLErrors(content []byte, file string) ([]ValidationError, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(tsyaml.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse %s: no root node", file)
	}
	if !root.HasError() {
		return nil, nil
	}

	var errs []ValidationError
	collect(root, file, &errs)
	if len(errs) == 0 {
		errs = append(errs, ValidationError{File: file, Message: "document contains errors"})
	}
	return errs, nil
}

func collect(node *sitter.Node, file string, errs *[]ValidationError) {
	if node.IsError() || node.IsMissing() {
		msg := "syntax error"
		if node.IsMissing() {
			msg = fmt.Sprintf("missing %s", node.Type())
		}
		*errs = append(*errs, ValidationError{
			File:    file,
			Line:    node.StartPoint().Row,
			Column:  node.StartPoint().Column,
			Message: msg,
		})
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			collect(child, file, errs)
		}
	}
}
