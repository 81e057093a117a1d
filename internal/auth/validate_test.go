package auth

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestNewValidator_RegistersRules(t *testing.T) {
	var v *validator.Validate
	assert.NotPanics(t, func() { v = newValidator() })

	assert.NoError(t, v.Var("Jane Doe", "personname"))
	assert.Error(t, v.Var("Jane99", "personname"))
	assert.NoError(t, v.Var("+15551234567", "phone"))
	assert.NoError(t, v.Var("", "license"))
	assert.Error(t, v.Var("abc", "license"))
	assert.NoError(t, v.Var("Secret1!", "strongpassword"))
	assert.Error(t, v.Var("secret11", "strongpassword"))
}

func TestMustRegister_PanicsOnBadTag(t *testing.T) {
	v := validator.New()
	assert.Panics(t, func() {
		mustRegister(v, "", func(validator.FieldLevel) bool { return true })
	})
}
