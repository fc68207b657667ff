package payload

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

const analyzeSchema = `{
	"type": "object",
	"properties": {
		"x": {"type": "number"}
	},
	"required": ["x"]
}`

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ANALYZE", analyzeSchema))
	require.True(t, r.Known("ANALYZE"))

	require.NoError(t, r.Validate("ANALYZE", contracts.Payload{"x": 1.0}))
}

func TestValidateRejectsMissingField(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ANALYZE", analyzeSchema))

	err := r.Validate("ANALYZE", contracts.Payload{"y": 1.0})
	require.Error(t, err)
}

func TestValidateRejectsWrongType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ANALYZE", analyzeSchema))

	err := r.Validate("ANALYZE", contracts.Payload{"x": "one"})
	require.Error(t, err)
}

func TestValidateUnknownActionType(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("UNKNOWN", contracts.Payload{})
	require.Error(t, err)
	require.False(t, r.Known("UNKNOWN"))
}

func TestRegisterBadSchema(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register("BROKEN", `{"type": 42}`))
}
