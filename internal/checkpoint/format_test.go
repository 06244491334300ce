package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syrilj/strata/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("model-weights-go-here")
	metadata := map[string]string{"optimizer": "adam"}

	encoded, err := EncodeFile(100, 3, types.CheckpointFull, false, metadata, payload)
	require.NoError(t, err)

	header, decodedPayload, err := DecodeFile(encoded)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), header.Step)
	assert.Equal(t, uint64(3), header.Epoch)
	assert.Equal(t, types.CheckpointFull, header.Type)
	assert.False(t, header.Compressed)
	assert.Equal(t, "adam", header.Metadata["optimizer"])
	assert.Equal(t, payload, decodedPayload)
}

func TestDecodeFileRejectsBadMagic(t *testing.T) {
	_, _, err := DecodeFile([]byte("not-a-checkpoint-file-at-all-000000000000"))
	assert.Error(t, err)
}

func TestDecodeFileRejectsTruncated(t *testing.T) {
	encoded, err := EncodeFile(1, 1, types.CheckpointFull, false, nil, []byte("x"))
	require.NoError(t, err)

	_, _, err = DecodeFile(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestCheckpointTypeRoundTrip(t *testing.T) {
	for _, ct := range []types.CheckpointType{
		types.CheckpointFull,
		types.CheckpointIncremental,
		types.CheckpointOptimizerOnly,
		types.CheckpointModelOnly,
	} {
		b := checkpointTypeByte(ct)
		assert.Equal(t, ct, checkpointTypeFromByte(b))
	}
}
