package gqlrequest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_SimpleQuery(t *testing.T) {
	q, err := Parse(`{ users { id name } }`, "")
	require.NoError(t, err)
	require.NotNil(t, q.Operation)
}

func TestParse_NamedOperationSelection(t *testing.T) {
	doc := `
		query First { users { id } }
		query Second { groups { id } }
	`
	q, err := Parse(doc, "Second")
	require.NoError(t, err)
	require.Equal(t, "Second", q.Operation.Name.Value)
}

func TestParse_AmbiguousOperationNameRequired(t *testing.T) {
	doc := `
		query First { users { id } }
		query Second { groups { id } }
	`
	_, err := Parse(doc, "")
	require.Error(t, err)
	var unsupportedErr *UnsupportedOperation
	require.ErrorAs(t, err, &unsupportedErr)
}

func TestParse_MutationRejected(t *testing.T) {
	_, err := Parse(`mutation { createUser(name: "a") { id } }`, "")
	require.Error(t, err)
	var unsupportedErr *UnsupportedOperation
	require.ErrorAs(t, err, &unsupportedErr)
}

func TestParse_FragmentRejected(t *testing.T) {
	doc := `
		query { users { ...UserFields } }
		fragment UserFields on User { id name }
	`
	_, err := Parse(doc, "")
	require.Error(t, err)
}

func TestParse_VariablesRejected(t *testing.T) {
	_, err := Parse(`query($id: Int!) { users(id: $id) { id } }`, "")
	require.Error(t, err)
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse(`{ users { `, "")
	require.Error(t, err)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParse_EmptyQuery(t *testing.T) {
	_, err := Parse("", "")
	require.Error(t, err)
}
