package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"os"
)

// Snapshot format: a fixed header followed by length-prefixed entries in
// sorted key order.
// Header: [Magic(4)][Version(2)][Count(4)][Checksum(4)]
// Entry:  [keyLen(2)][key bytes][dataLen(4)][data bytes]
const (
	SnapshotMagic   uint32 = 0x4D525046 // "FPRM" in little endian
	SnapshotVersion uint16 = 1
	snapshotHeader         = 4 + 2 + 4 + 4
)

// EncodeStateDict writes a state dict to its binary snapshot form with an
// integrity checksum over the entry data.
func EncodeStateDict(sd StateDict) ([]byte, error) {
	body := &bytes.Buffer{}
	for _, k := range sd.Keys() {
		if len(k) > math.MaxUint16 {
			return nil, fmt.Errorf("key %q exceeds %d bytes", k[:32], math.MaxUint16)
		}
		data := sd[k]
		if uint64(len(data)) > math.MaxUint32 {
			return nil, fmt.Errorf("entry %q exceeds %d bytes", k, uint32(math.MaxUint32))
		}
		if err := binary.Write(body, binary.LittleEndian, uint16(len(k))); err != nil {
			return nil, err
		}
		body.WriteString(k)
		if err := binary.Write(body, binary.LittleEndian, uint32(len(data))); err != nil {
			return nil, err
		}
		body.Write(data)
	}

	out := &bytes.Buffer{}
	out.Grow(snapshotHeader + body.Len())
	if err := binary.Write(out, binary.LittleEndian, SnapshotMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(out, binary.LittleEndian, SnapshotVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(len(sd))); err != nil {
		return nil, err
	}
	if err := binary.Write(out, binary.LittleEndian, crc32.ChecksumIEEE(body.Bytes())); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// DecodeStateDict reads a binary snapshot back into a state dict, verifying
// magic, version, and checksum.
func DecodeStateDict(data []byte) (StateDict, error) {
	if len(data) < snapshotHeader {
		return nil, errors.New("snapshot too short for header")
	}
	buf := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != SnapshotMagic {
		return nil, fmt.Errorf("invalid snapshot magic: %#x", magic)
	}
	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", version)
	}
	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	var checksum uint32
	if err := binary.Read(buf, binary.LittleEndian, &checksum); err != nil {
		return nil, err
	}

	body := data[snapshotHeader:]
	if crc32.ChecksumIEEE(body) != checksum {
		return nil, errors.New("snapshot corruption detected")
	}

	sd := make(StateDict, count)
	for i := uint32(0); i < count; i++ {
		var keyLen uint16
		if err := binary.Read(buf, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("truncated snapshot at entry %d: %w", i, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(buf, key); err != nil {
			return nil, fmt.Errorf("truncated snapshot key at entry %d: %w", i, err)
		}
		var dataLen uint32
		if err := binary.Read(buf, binary.LittleEndian, &dataLen); err != nil {
			return nil, fmt.Errorf("truncated snapshot at entry %d: %w", i, err)
		}
		payload := make([]byte, dataLen)
		if _, err := io.ReadFull(buf, payload); err != nil {
			return nil, fmt.Errorf("truncated snapshot data at entry %d: %w", i, err)
		}
		if _, dup := sd[string(key)]; dup {
			return nil, fmt.Errorf("duplicate snapshot key %q", string(key))
		}
		sd[string(key)] = payload
	}
	if buf.Len() != 0 {
		return nil, fmt.Errorf("snapshot has %d trailing bytes", buf.Len())
	}
	return sd, nil
}

// SaveStateDict writes a snapshot file.
func SaveStateDict(path string, sd StateDict) error {
	data, err := EncodeStateDict(sd)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	slog.Debug("saved state dict snapshot", "path", path, "entries", len(sd), "bytes", len(data))
	return nil
}

// LoadStateDictFile reads a snapshot file.
func LoadStateDictFile(path string) (StateDict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sd, err := DecodeStateDict(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	slog.Debug("loaded state dict snapshot", "path", path, "entries", len(sd))
	return sd, nil
}
