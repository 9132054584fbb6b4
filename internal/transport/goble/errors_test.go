package goble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeErrorSentinels(t *testing.T) {
	err := normalizeError(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))
	assert.ErrorIs(t, err, ErrBluetoothOff)

	err = normalizeError(errors.New("can't read characteristic: device not connected"))
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, normalizeError(nil))

	plain := errors.New("something else entirely")
	assert.Equal(t, plain, normalizeError(plain))
}

func TestNormalizeErrorAttCode(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		code byte
	}{
		{"darwin", "write failed: Error Domain=CBATTErrorDomain Code=128 ...", 0x80},
		{"linux", "write failed: ATT error: 0x81", 0x81},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := normalizeError(errors.New(tt.msg))

			var att *AttError
			require.ErrorAs(t, err, &att)
			assert.Equal(t, tt.code, att.Code)
			assert.Equal(t, tt.code, att.AttCode())
		})
	}
}

func TestAttErrorUnwrap(t *testing.T) {
	cause := errors.New("ATT error: 0x80")
	err := normalizeError(cause)
	assert.ErrorIs(t, err, cause)
}
