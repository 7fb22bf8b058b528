package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
)

func validDescriptor(id string) Descriptor {
	return Descriptor{
		ID:               id,
		Metadata:         Metadata{ID: id, Name: id},
		DataRequirements: []series.DataRequirement{{SourceKind: series.KindOHLCV, Required: true}},
		New: func(b *broker.Broker, data map[series.Kind]series.Series, params map[string]interface{}) (interface{}, error) {
			return struct{}{}, nil
		},
	}
}

func TestDescriptor_ValidateRequiresOHLCVFirst(t *testing.T) {
	d := validDescriptor("x")
	d.DataRequirements = []series.DataRequirement{{SourceKind: series.KindFundingRate, Required: true}}
	assert.Error(t, d.Validate())
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(validDescriptor("a")))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_RejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(validDescriptor("a")))
	assert.Error(t, r.Register(validDescriptor("a")))
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(validDescriptor("a")))
	require.NoError(t, r.Register(validDescriptor("b")))
	assert.Len(t, r.List(), 2)
}

func TestFillDefaults(t *testing.T) {
	d := validDescriptor("a")
	d.Parameters = map[string]ParameterSpec{
		"fast": {Name: "fast", Type: ParamInt, Default: 10},
		"slow": {Name: "slow", Type: ParamInt, Default: 30},
	}
	out := FillDefaults(d, map[string]interface{}{"fast": 5})
	assert.Equal(t, 5, out["fast"])
	assert.Equal(t, 30, out["slow"])
}
