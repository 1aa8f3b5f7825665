package statstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckNamespace(t *testing.T) {
	assert.NoError(t, CheckNamespace("wattsync:12345678901234_consumption_standard"))
	assert.NoError(t, CheckNamespace("wattsync:12345678901234_production_standard_cost"))

	assert.ErrorIs(t, CheckNamespace("sensor.house_energy"), ErrOutsideNamespace)
	assert.ErrorIs(t, CheckNamespace("recorder:whatever"), ErrOutsideNamespace)
	assert.ErrorIs(t, CheckNamespace(""), ErrOutsideNamespace)
	// the prefix alone names no series
	assert.ErrorIs(t, CheckNamespace("wattsync:"), ErrOutsideNamespace)
}
