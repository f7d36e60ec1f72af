// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// ReadUint64 reads a little-endian uint64 at offset, bounds-checked against
// the dump's byte buffer.
func (d *Dump) ReadUint64(offset uint32) (uint64, error) {
	b, err := d.slice(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (d *Dump) ReadUint32(offset uint32) (uint32, error) {
	b, err := d.slice(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (d *Dump) ReadUint16(offset uint32) (uint16, error) {
	b, err := d.slice(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint8 reads a single byte at offset.
func (d *Dump) ReadUint8(offset uint32) (uint8, error) {
	b, err := d.slice(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// structUnpack decodes size bytes starting at offset into iface using
// little-endian field order.
func (d *Dump) structUnpack(iface interface{}, offset, size uint32) error {
	b, err := d.slice(offset, size)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, iface)
}

// ReadBytesAtOffset returns a bounds-checked byte slice copy starting at
// offset. Callers that retain the result past the decode pass must not rely
// on this being a view into the dump's buffer: it always copies, so decoded
// entities never alias the input bytes.
func (d *Dump) ReadBytesAtOffset(offset, size uint32) ([]byte, error) {
	b, err := d.slice(offset, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// readUTF16String decodes a length-prefixed UTF-16LE string: a u32 byte
// length followed by that many bytes of UTF-16LE data (no NUL terminator
// required, following the MINIDUMP_STRING convention). Lone surrogates are
// replaced with U+FFFD rather than failing the record.
func (d *Dump) readUTF16String(rva uint32) (string, error) {
	length, err := d.ReadUint32(rva)
	if err != nil {
		return "", err
	}
	raw, err := d.slice(rva+4, length)
	if err != nil {
		return "", err
	}
	return decodeUTF16LE(raw), nil
}

// utf16Decoder wraps golang.org/x/text/encoding/unicode for the common
// well-formed case.
var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// decodeUTF16LE decodes raw little-endian UTF-16 bytes to a Go string. It
// tries the strict x/text decoder first; a minidump string captured from a
// crashing process is not guaranteed to be well-formed, though, so on a
// decode error (a lone surrogate) this falls back to unicode/utf16.Decode,
// which replaces unpaired surrogates with U+FFFD instead of failing the
// record.
func decodeUTF16LE(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	if s, err := utf16Decoder.Bytes(raw); err == nil {
		return string(bytes.TrimRight(s, "\x00"))
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	if n := len(units); n > 0 && units[n-1] == 0 {
		units = units[:n-1]
	}
	return string(utf16.Decode(units))
}

// decodeUTF16ZString decodes a NUL-terminated (not length-prefixed) run of
// UTF-16LE bytes. CodeView PDB filenames do not go through it: they are
// 8-bit on disk and decoded by asciiZString.
func decodeUTF16ZString(raw []byte) string {
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		u := binary.LittleEndian.Uint16(raw[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// asciiZString returns the leading NUL-terminated ASCII run of raw, used for
// CodeView PDB filenames which are 8-bit on disk (unlike module paths).
func asciiZString(raw []byte) string {
	n := bytes.IndexByte(raw, 0)
	if n < 0 {
		n = len(raw)
	}
	return string(raw[:n])
}

// hex32 renders v as a lowercase, 0x-prefixed hex string.
func hex32(v uint32) string {
	return hexU(uint64(v))
}

// hex64 renders a 64-bit address the same way as hex32.
func hex64(v uint64) string {
	return hexU(v)
}

func hexU(v uint64) string {
	if v == 0 {
		return "0x0"
	}
	const digits = "0123456789abcdef"
	var buf [18]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	i -= 2
	buf[i] = '0'
	buf[i+1] = 'x'
	return string(buf[i:])
}

// Address is a process-space pointer or size value. It marshals as the same
// lowercase, 0x-prefixed hex string every address field in the decoded
// output uses, rather than a JSON number.
type Address uint64

func (a Address) String() string {
	return hex64(uint64(a))
}

func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}
