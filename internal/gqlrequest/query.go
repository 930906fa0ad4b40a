// Package gqlrequest decodes an HTTP GraphQL request into a raw query string
// and parses it into the single Query operation the planner (§4.C) consumes.
// Parsing itself is delegated to github.com/graphql-go/graphql's lexer/AST —
// the spec's out-of-scope "GQL lexer/parser" collaborator (§1, §6).
package gqlrequest

import (
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// Query is a parsed, validated single-Query-operation request ready for the
// planner: one operation, no fragments, query type only.
type Query struct {
	Document  *ast.Document
	Operation *ast.OperationDefinition
}

// Parse parses queryText and selects the single GQL query operation to run.
// operationName disambiguates a document containing more than one named
// operation; it may be empty when the document has exactly one.
//
// Returns *ParseError for a syntax error, or *UnsupportedOperation when the
// document contains fragments, a non-query operation, or cannot be narrowed
// to exactly one operation.
func Parse(queryText, operationName string) (*Query, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, unsupported("empty query")
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(queryText), Name: "graphql"}),
	})
	if err != nil {
		return nil, &ParseError{Cause: err}
	}

	var operations []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			operations = append(operations, d)
		case *ast.FragmentDefinition:
			return nil, unsupported("fragments are not supported")
		}
	}

	op, err := selectOperation(operations, operationName)
	if err != nil {
		return nil, err
	}
	if op.Operation != ast.OperationTypeQuery {
		return nil, unsupported("operation type %q is not supported, only query", op.Operation)
	}
	if len(op.VariableDefinitions) > 0 {
		return nil, unsupported("variables are not supported")
	}

	return &Query{Document: doc, Operation: op}, nil
}

func selectOperation(operations []*ast.OperationDefinition, operationName string) (*ast.OperationDefinition, error) {
	if len(operations) == 0 {
		return nil, unsupported("request does not include an operation")
	}
	if operationName != "" {
		for _, op := range operations {
			if op.Name != nil && op.Name.Value == operationName {
				return op, nil
			}
		}
		return nil, unsupported("unknown operation named %q", operationName)
	}
	if len(operations) == 1 {
		return operations[0], nil
	}
	return nil, unsupported("operationName is required when the request has multiple operations")
}
