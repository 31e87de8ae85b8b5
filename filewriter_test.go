package bagplay

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter(t *testing.T) {
	outPath := path.Join(t.TempDir(), "records.jsonl")

	fw, err := NewFileWriter(outPath, nil)
	require.NoError(t, err)

	require.NoError(t, fw.Write([]byte(`{"topic":"/a"}`)))
	require.NoError(t, fw.Write([]byte(`{"topic":"/b"}`)))
	assert.Equal(t, uint64(2), fw.Records())

	require.NoError(t, fw.Sync())
	require.NoError(t, fw.Close())

	contents, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "{\"topic\":\"/a\"}\n{\"topic\":\"/b\"}\n", string(contents))
}
