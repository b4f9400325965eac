// Package tensorio implements the zip-based tensor containers used for
// dataset files and model snapshots. A container is a zip archive holding a
// JSON manifest entry plus binary tensor entries encoded as protobuf wire
// data, so payloads stay compact and round-trip bit-for-bit.
package tensorio

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// tensorField is the wire field number carrying tensor payloads.
const tensorField = protowire.Number(1)

// EncodeFloat32s encodes a list of float32 tensors as protobuf wire data.
// Each tensor becomes one length-delimited field whose bytes are the
// IEEE-754 little-endian values, so NaN payloads survive unchanged.
func EncodeFloat32s(tensors [][]float32) []byte {
	var buf []byte
	for _, t := range tensors {
		raw := make([]byte, 4*len(t))
		for i, v := range t {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
		}
		buf = protowire.AppendTag(buf, tensorField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, raw)
	}
	return buf
}

// DecodeFloat32s decodes wire data produced by EncodeFloat32s.
func DecodeFloat32s(data []byte) ([][]float32, error) {
	var tensors [][]float32
	for len(data) > 0 {
		raw, rest, err := consumeTensorField(data)
		if err != nil {
			return nil, err
		}
		data = rest
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("tensor payload length %d is not a multiple of 4", len(raw))
		}
		t := make([]float32, len(raw)/4)
		for i := range t {
			t[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		tensors = append(tensors, t)
	}
	return tensors, nil
}

// EncodeInts encodes an int vector as a single length-delimited field of
// packed varints. Values must be non-negative.
func EncodeInts(values []int) []byte {
	var payload []byte
	for _, v := range values {
		payload = protowire.AppendVarint(payload, uint64(v))
	}
	buf := protowire.AppendTag(nil, tensorField, protowire.BytesType)
	return protowire.AppendBytes(buf, payload)
}

// DecodeInts decodes wire data produced by EncodeInts.
func DecodeInts(data []byte) ([]int, error) {
	payload, rest, err := consumeTensorField(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("unexpected trailing data after int vector")
	}
	values := []int{}
	for len(payload) > 0 {
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return nil, fmt.Errorf("parsing varint: %v", protowire.ParseError(n))
		}
		values = append(values, int(v))
		payload = payload[n:]
	}
	return values, nil
}

func consumeTensorField(data []byte) (payload, rest []byte, err error) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return nil, nil, fmt.Errorf("parsing field tag: %v", protowire.ParseError(n))
	}
	if num != tensorField || typ != protowire.BytesType {
		return nil, nil, fmt.Errorf("unexpected wire field %d type %d", num, typ)
	}
	data = data[n:]
	payload, n = protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, nil, fmt.Errorf("parsing field payload: %v", protowire.ParseError(n))
	}
	return payload, data[n:], nil
}

// Entry is one named member of a container archive.
type Entry struct {
	Name string
	Data []byte
}

// WriteArchive writes entries to path as a zip archive, replacing any
// existing file at that path.
func WriteArchive(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", path, err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			f.Close()
			return fmt.Errorf("creating archive entry %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			f.Close()
			return fmt.Errorf("writing archive entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing archive %s: %v", path, err)
	}
	return f.Close()
}

// ReadArchive loads every entry of the zip archive at path into memory.
func ReadArchive(path string) (map[string][]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	defer r.Close()

	entries := make(map[string][]byte, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening archive entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading archive entry %s: %v", f.Name, err)
		}
		entries[f.Name] = data
	}
	return entries, nil
}
