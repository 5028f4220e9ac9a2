package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	err := fmt.Errorf("outer: %w", Validationf("registry.PutZone", "bad radius %d", 0))
	assert.True(t, IsValidation(err))
	assert.False(t, IsState(err))
	assert.Contains(t, err.Error(), "registry.PutZone: validation error: bad radius 0")

	assert.True(t, IsState(Statef("tick", "zone gone")))
	assert.True(t, IsTimer(Timer("tick", errors.New("boom"))))
	assert.True(t, IsDispatch(Dispatch("webhook", errors.New("502"))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

type sample struct {
	MACAddress string `validate:"required"`
	Kind       string `validate:"required,oneof=detected lost rssi_update"`
}

func TestCustomValidationError(t *testing.T) {
	v := validator.New()
	err := v.Struct(sample{Kind: "ping"})
	require.Error(t, err)

	list := CustomValidationError(err)
	require.Len(t, list, 2)
	assert.Equal(t, "sample.MACAddress is invalid", list[0]["MACAddress"])

	wrapped := FromValidator("ingress", err)
	assert.True(t, IsValidation(wrapped))
	assert.Contains(t, wrapped.Error(), "Kind sample.Kind is invalid")
}

func TestFromValidator_Nil(t *testing.T) {
	assert.NoError(t, FromValidator("x", nil))
}
