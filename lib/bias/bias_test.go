package bias

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestType(t *testing.T) {
	assert.Equal(t, "Current [A]", Current.Label())
	assert.Equal(t, "Voltage [V]", Voltage.Label())
	assert.Equal(t, "Type(7)", Type(7).String())
	assert.Empty(t, Type(7).Unit())
}
