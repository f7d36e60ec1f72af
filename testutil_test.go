// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"bytes"
	"encoding/binary"
)

// pack encodes v in the same little-endian, no-padding wire format
// structUnpack decodes, the same helper every *_test.go in this package
// uses to build synthetic stream records.
func pack(v interface{}) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// putUint32LE / putUint64LE are small helpers for building raw byte slices
// where a full struct literal would be overkill (lists, string records).
func putUint32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func putUint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// utf16LEString encodes s as a length-prefixed MINIDUMP_STRING: a u32 byte
// length followed by that many bytes of UTF-16LE data.
func utf16LEString(s string) []byte {
	runes := []rune(s)
	data := make([]byte, 0, len(runes)*2)
	for _, r := range runes {
		u := uint16(r)
		data = append(data, byte(u), byte(u>>8))
	}
	out := putUint32LE(uint32(len(data)))
	return append(out, data...)
}

// padTo pads buf with zero bytes until it reaches n bytes.
func padTo(buf []byte, n int) []byte {
	for len(buf) < n {
		buf = append(buf, 0)
	}
	return buf
}

// testDump wraps data in a Dump the way NewBytes does, without going
// through the public constructor, so stream decoders can be exercised in
// isolation against a hand-built buffer.
func testDump(data []byte) *Dump {
	d := newDump(nil)
	d.data = data
	d.size = uint32(len(data))
	return d
}

// minidumpHeaderBytes builds the fixed 32-byte header for a stream directory
// living at directoryRVA with streamCount entries.
func minidumpHeaderBytes(streamCount, directoryRVA uint32) []byte {
	return pack(Header{
		Signature:    Signature,
		Version:      VersionWord,
		StreamCount:  streamCount,
		DirectoryRVA: directoryRVA,
	})
}

// dirEntryBytes builds one 12-byte stream directory entry.
func dirEntryBytes(t StreamType, offset, length uint32) []byte {
	raw := struct {
		StreamType uint32
		DataSize   uint32
		RVA        uint32
	}{uint32(t), length, offset}
	return pack(raw)
}
