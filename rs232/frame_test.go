package rs232

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum8(t *testing.T) {
	assert.Equal(t, byte(0), Sum8(nil))
	assert.Equal(t, byte('A'), Sum8([]byte("A")))

	// 0x80+0x80+0x41 = 0x141, truncated to 0x41.
	assert.Equal(t, byte(0x41), Sum8([]byte{0x80, 0x80, 0x41}))
}

func TestDialect_Validate(t *testing.T) {
	require.NoError(t, testDialect().validate())

	d := testDialect()
	d.Preamble = nil
	require.ErrorIs(t, d.validate(), ErrEncoding)

	// Terminator may legally equal the first preamble byte (the test
	// dialect does exactly that), but not any later one.
	d = testDialect()
	d.Preamble = []byte("@'")
	require.ErrorIs(t, d.validate(), ErrEncoding)

	d = testDialect()
	d.MaxFrameLen = d.overhead()
	require.ErrorIs(t, d.validate(), ErrEncoding)
}

func TestEncode(t *testing.T) {
	d := testDialect()
	spec := &CommandSpec{Name: "level.set", Code: "LV", ArgLen: 2, ReplyArgLen: 2, Validate: levelArgsValid}

	wire, err := Encode(d, spec, []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, []byte("'@LV42'"), wire)

	wire, err = Encode(d, &CommandSpec{Name: "lamp.on", Code: "L1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("'@L1'"), wire)
}

func TestEncode_NilSpec(t *testing.T) {
	_, err := Encode(testDialect(), nil, nil)
	require.ErrorIs(t, err, ErrEncoding)
}

func TestEncode_ArityMismatch(t *testing.T) {
	spec := &CommandSpec{Name: "level.set", Code: "LV", ArgLen: 2}

	_, err := Encode(testDialect(), spec, []byte("123"))
	require.ErrorIs(t, err, ErrEncoding)

	_, err = Encode(testDialect(), spec, nil)
	require.ErrorIs(t, err, ErrEncoding)
}

func TestEncode_ValidateRejects(t *testing.T) {
	spec := &CommandSpec{Name: "level.set", Code: "LV", ArgLen: 2, Validate: levelArgsValid}

	_, err := Encode(testDialect(), spec, []byte("ab"))
	require.ErrorIs(t, err, ErrEncoding)
}

func TestEncode_TerminatorInPayload(t *testing.T) {
	spec := &CommandSpec{Name: "raw", Code: "RW", ArgLen: 2}

	_, err := Encode(testDialect(), spec, []byte("a'"))
	require.ErrorIs(t, err, ErrEncoding)
}

func TestEncode_FrameTooLong(t *testing.T) {
	spec := &CommandSpec{Name: "raw", Code: "RW", ArgLen: 14}

	_, err := Encode(testDialect(), spec, []byte("01234567890123"))
	require.ErrorIs(t, err, ErrFrameTooLong)
}

func TestEncode_Checksum(t *testing.T) {
	d := testDialect()
	d.Checksum = Sum8

	wire, err := Encode(d, &CommandSpec{Name: "lamp.on", Code: "L1"}, nil)
	require.NoError(t, err)

	// Checksum covers the payload only, appended after the terminator.
	require.Equal(t, []byte("'@L1'"), wire[:5])
	assert.Equal(t, Sum8([]byte("L1")), wire[5])
}
