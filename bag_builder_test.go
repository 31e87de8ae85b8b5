package bagplay

import (
	"bytes"
	"encoding/binary"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

// bagBuilder assembles bag files byte for byte for the playback tests.
type bagBuilder struct {
	buf bytes.Buffer
}

func newBagBuilder(banner string) *bagBuilder {
	b := &bagBuilder{}
	if banner != "" {
		b.buf.WriteString(banner)
		b.buf.WriteByte('\n')
	}
	return b
}

func u32le(v uint32) []byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], v)
	return out[:]
}

// headerField encodes one <len><name>=<value> block.
func headerField(name string, value []byte) []byte {
	var out bytes.Buffer
	out.Write(u32le(uint32(len(name) + 1 + len(value))))
	out.WriteString(name)
	out.WriteByte('=')
	out.Write(value)
	return out.Bytes()
}

// record appends a full V1.2 record: header length, header fields, body
// length, body.
func (b *bagBuilder) record(fields [][]byte, body []byte) *bagBuilder {
	var header bytes.Buffer
	for _, f := range fields {
		header.Write(f)
	}
	b.buf.Write(u32le(uint32(header.Len())))
	b.buf.Write(header.Bytes())
	b.buf.Write(u32le(uint32(len(body))))
	b.buf.Write(body)
	return b
}

func (b *bagBuilder) msgDef(topic, md5sum, datatype, definition string) *bagBuilder {
	return b.record([][]byte{
		headerField(opFieldName, []byte{OpMsgDef}),
		headerField(topicFieldName, []byte(topic)),
		headerField(md5FieldName, []byte(md5sum)),
		headerField(typeFieldName, []byte(datatype)),
		headerField(defFieldName, []byte(definition)),
	}, nil)
}

func (b *bagBuilder) msgData(topic, md5sum, datatype string, sec, nsec uint32, body []byte) *bagBuilder {
	return b.record([][]byte{
		headerField(opFieldName, []byte{OpMsgData}),
		headerField(topicFieldName, []byte(topic)),
		headerField(md5FieldName, []byte(md5sum)),
		headerField(typeFieldName, []byte(datatype)),
		headerField(secFieldName, u32le(sec)),
		headerField(nsecFieldName, u32le(nsec)),
	}, body)
}

// legacyRecordSuffix appends the (sec, nsec, body_len, body) block shared by
// every pre-1.2 version.
func (b *bagBuilder) legacyRecordSuffix(sec, nsec uint32, body []byte) *bagBuilder {
	b.buf.Write(u32le(sec))
	b.buf.Write(u32le(nsec))
	b.buf.Write(u32le(uint32(len(body))))
	b.buf.Write(body)
	return b
}

func (b *bagBuilder) line(s string) *bagBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
	return b
}

func (b *bagBuilder) raw(data []byte) *bagBuilder {
	b.buf.Write(data)
	return b
}

// write drops the assembled bag into a temp dir and returns its path.
func (b *bagBuilder) write(t *testing.T) string {
	t.Helper()
	bagPath := path.Join(t.TempDir(), "test.bag")
	require.NoError(t, os.WriteFile(bagPath, b.buf.Bytes(), 0644))
	return bagPath
}

const testMD5 = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// delivered captures one dispatched record for assertions.
type delivered struct {
	topic    string
	playback Time
	recorded Time
	body     []byte
	meta     map[string]string
}

// recordingHandler appends every dispatched record to the returned slice.
func recordingHandler(got *[]delivered) RawFunc {
	return func(topic string, raw *RawMessage, playback, recorded Time) {
		*got = append(*got, delivered{
			topic:    topic,
			playback: playback,
			recorded: recorded,
			body:     append([]byte(nil), raw.Bytes()...),
			meta:     raw.Metadata(),
		})
	}
}

// fakeMessage and fakeCapability stand in for the external message library.
type fakeMessage struct {
	data []byte
}

func (m *fakeMessage) Deserialize(data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}

type fakeCapability struct {
	md5sum   string
	datatype string
	allocs   int
}

func (c *fakeCapability) MD5Sum() string   { return c.md5sum }
func (c *fakeCapability) Datatype() string { return c.datatype }
func (c *fakeCapability) NewMessage() Message {
	c.allocs++
	return &fakeMessage{}
}
