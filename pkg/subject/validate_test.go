package subject

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateParams_MissingRequiredFieldIsRejected(t *testing.T) {
	def := ActionDefinition{
		Name: "drain_node",
		Parameters: map[string]ParamSpec{
			"node_id": {Type: "string", Required: true},
		},
	}

	err := ValidateParams(def, map[string]any{})
	require.Error(t, err)

	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, ActionErrorInvalidParams, ae.Kind)
}

func TestValidateParams_WrongTypeIsRejected(t *testing.T) {
	def := ActionDefinition{
		Name: "drain_node",
		Parameters: map[string]ParamSpec{
			"node_id": {Type: "string", Required: true},
		},
	}

	err := ValidateParams(def, map[string]any{"node_id": 42})
	require.Error(t, err)
}

func TestValidateParams_ValidParamsPass(t *testing.T) {
	def := ActionDefinition{
		Name: "drain_node",
		Parameters: map[string]ParamSpec{
			"node_id": {Type: "string", Required: true},
		},
	}

	require.NoError(t, ValidateParams(def, map[string]any{"node_id": "n0"}))
}

func TestValidateParams_NoParametersAcceptsEmptyMap(t *testing.T) {
	def := ActionDefinition{Name: "reset_policy_counter", Parameters: map[string]ParamSpec{}}

	require.NoError(t, ValidateParams(def, nil))
}

func TestFindActionDefinition_LooksUpByName(t *testing.T) {
	defs := []ActionDefinition{{Name: "a"}, {Name: "b"}}

	found, ok := FindActionDefinition(defs, "b")
	require.True(t, ok)
	require.Equal(t, "b", found.Name)

	_, ok = FindActionDefinition(defs, "missing")
	require.False(t, ok)
}
