// Package checkpoint implements the async checkpoint write pipeline: a
// bounded queue feeds a single writer goroutine that stages each
// checkpoint to disk via temp-file-plus-rename, and a step-indexed
// metadata index with keep-count retention.
//
// Grounded on original_source/crates/checkpoint/src/writer.rs (the binary
// header format and write pipeline) and manager.rs (the retention and
// pending-status bookkeeping). The teacher's storage.Store interface (see
// internal/storage) doesn't fit a byte-stream-with-header file format, so
// this package writes through internal/storage's new FilesystemBackend
// instead, which was added for exactly this.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/syrilj/strata/internal/strataerr"
	"github.com/syrilj/strata/internal/types"
)

// Magic is the 4-byte file signature every checkpoint file begins with.
var Magic = [4]byte{'C', 'K', 'P', 'T'}

// FormatVersion is the current on-disk header version.
const FormatVersion uint32 = 1

// Header is the fixed-layout prefix of a checkpoint file, all integers
// little-endian: magic[4], version u32, step u64, epoch u64, type u8,
// compressed u8, dataSize u64, metadataLen u32, then metadataLen bytes of
// JSON-encoded metadata, then dataSize bytes of payload.
type Header struct {
	Version    uint32
	Step       uint64
	Epoch      uint64
	Type       types.CheckpointType
	Compressed bool
	DataSize   uint64
	Metadata   map[string]string
}

// EncodeFile serializes header and payload into the exact wire layout
// described above.
func EncodeFile(step, epoch uint64, ctype types.CheckpointType, compressed bool, metadata map[string]string, payload []byte) ([]byte, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	_ = binary.Write(&buf, binary.LittleEndian, FormatVersion)
	_ = binary.Write(&buf, binary.LittleEndian, step)
	_ = binary.Write(&buf, binary.LittleEndian, epoch)
	buf.WriteByte(checkpointTypeByte(ctype))
	if compressed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(metaJSON)))
	buf.Write(metaJSON)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeFile parses a checkpoint file produced by EncodeFile, returning the
// header fields and the payload slice (a view into data, not copied).
func DecodeFile(data []byte) (Header, []byte, error) {
	if len(data) < 4+4+8+8+1+1+8+4 {
		return Header{}, nil, strataerr.New(strataerr.Corrupted, "DecodeFile", "file too short for header")
	}

	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != Magic {
		return Header{}, nil, strataerr.New(strataerr.Corrupted, "DecodeFile", "bad magic %q", magic[:])
	}

	r := bytes.NewReader(data[4:])
	var h Header
	var version uint32
	_ = binary.Read(r, binary.LittleEndian, &version)
	h.Version = version
	if version != FormatVersion {
		// Non-fatal: an unrecognized version is logged and parsing continues.
		logrus.WithFields(logrus.Fields{"version": version, "expected": FormatVersion}).Warn("checkpoint: header version mismatch")
	}

	var step, epoch, dataSize uint64
	var typeByte, compressedByte byte
	var metaLen uint32
	_ = binary.Read(r, binary.LittleEndian, &step)
	_ = binary.Read(r, binary.LittleEndian, &epoch)
	typeByte, _ = r.ReadByte()
	compressedByte, _ = r.ReadByte()
	_ = binary.Read(r, binary.LittleEndian, &dataSize)
	_ = binary.Read(r, binary.LittleEndian, &metaLen)

	h.Step = step
	h.Epoch = epoch
	h.Type = checkpointTypeFromByte(typeByte)
	h.Compressed = compressedByte == 1
	h.DataSize = dataSize

	headerFixedLen := 4 + 4 + 8 + 8 + 1 + 1 + 8 + 4
	metaStart := headerFixedLen
	metaEnd := metaStart + int(metaLen)
	if metaEnd > len(data) {
		return Header{}, nil, strataerr.New(strataerr.Corrupted, "DecodeFile", "metadata length exceeds file size")
	}
	if metaLen > 0 {
		if err := json.Unmarshal(data[metaStart:metaEnd], &h.Metadata); err != nil {
			return Header{}, nil, fmt.Errorf("checkpoint: unmarshal metadata: %w", err)
		}
	}

	payloadStart := metaEnd
	payloadEnd := payloadStart + int(dataSize)
	if payloadEnd > len(data) {
		return Header{}, nil, strataerr.New(strataerr.Corrupted, "DecodeFile", "payload length exceeds file size")
	}
	return h, data[payloadStart:payloadEnd], nil
}

func checkpointTypeByte(t types.CheckpointType) byte {
	switch t {
	case types.CheckpointFull:
		return 0
	case types.CheckpointIncremental:
		return 1
	case types.CheckpointOptimizerOnly:
		return 2
	case types.CheckpointModelOnly:
		return 3
	default:
		return 0
	}
}

func checkpointTypeFromByte(b byte) types.CheckpointType {
	switch b {
	case 1:
		return types.CheckpointIncremental
	case 2:
		return types.CheckpointOptimizerOnly
	case 3:
		return types.CheckpointModelOnly
	default:
		return types.CheckpointFull
	}
}
