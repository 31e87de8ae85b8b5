package bagplay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseHeaderRoundTrip writes fields and reads them back unchanged
func TestParseHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(headerField("op", []byte{OpMsgData}))
	buf.Write(headerField("topic", []byte("/a")))
	buf.Write(headerField("md5", []byte(testMD5)))
	buf.Write(headerField("def", nil))

	fields, err := parseHeader(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte{OpMsgData}, fields["op"])
	assert.Equal(t, []byte("/a"), fields["topic"])
	assert.Equal(t, []byte(testMD5), fields["md5"])
	assert.Len(t, fields["def"], 0)
	assert.Len(t, fields, 4)
}

// TestParseHeaderValueWithEquals keeps '=' bytes inside the value intact
func TestParseHeaderValueWithEquals(t *testing.T) {
	fields, err := parseHeader(headerField("def", []byte("int32 a=1")))
	require.NoError(t, err)
	assert.Equal(t, []byte("int32 a=1"), fields["def"])
}

func TestParseHeaderTruncatedLength(t *testing.T) {
	_, err := parseHeader([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestParseHeaderLengthPastEnd(t *testing.T) {
	_, err := parseHeader(u32le(100))
	assert.Error(t, err)
}

func TestParseHeaderNoSeparator(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(u32le(5))
	buf.WriteString("opXXX")
	_, err := parseHeader(buf.Bytes())
	assert.Error(t, err)
}

func TestCheckField(t *testing.T) {
	fields := headerFields{
		"md5": []byte(testMD5),
		"sec": u32le(10),
	}

	value, err := checkField(fields, "md5", 32, 32, true)
	require.NoError(t, err)
	assert.Equal(t, []byte(testMD5), value)

	// Required field missing is an error
	_, err = checkField(fields, "topic", 1, 100, true)
	assert.Error(t, err)

	// Optional field missing is not
	value, err = checkField(fields, "latching", 1, 100, false)
	assert.NoError(t, err)
	assert.Nil(t, value)

	// Present but wrong size is an error even when optional
	_, err = checkField(fields, "sec", 8, 8, false)
	assert.Error(t, err)
}

func TestFieldUint32(t *testing.T) {
	assert.Equal(t, uint32(1_000_000_007), fieldUint32(u32le(1_000_000_007)))
}
