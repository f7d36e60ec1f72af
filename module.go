// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"encoding/binary"
	"sort"
)

// CodeView signatures, identical in spirit to the PE engine's debug.go
// (CVSignatureRSDS / CVSignatureNB10), but here they tag the CodeView record
// embedded inline in a minidump module entry rather than a PE debug
// directory entry.
const (
	cvSignatureRSDS uint32 = 0x53445352 // 'RSDS'
	cvSignatureNB10 uint32 = 0x3031424e // 'NB10'
)

// CodeViewFormat names the dispatch outcome for a module's CodeView record.
type CodeViewFormat string

const (
	CodeViewPDB70   CodeViewFormat = "PDB70"
	CodeViewPDB20   CodeViewFormat = "PDB20"
	CodeViewUnknown CodeViewFormat = "Unknown"
)

// GUID is a 128-bit value, formatted the same way as the PE engine's
// debug.go GUID: one group of 8 hex digits, three groups of 4, one of 12.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

func (g GUID) String() string {
	return hexPad(uint64(g.Data1), 8) + "-" +
		hexPad(uint64(g.Data2), 4) + "-" +
		hexPad(uint64(g.Data3), 4) + "-" +
		hexBytes(g.Data4[:2]) + "-" +
		hexBytes(g.Data4[2:])
}

func hexPad(v uint64, width int) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

func hexBytes(b []byte) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, len(b)*2)
	for i, c := range b {
		buf[i*2] = digits[c>>4]
		buf[i*2+1] = digits[c&0xf]
	}
	return string(buf)
}

// CodeViewRecord identifies a module's symbol file (PDB) by GUID/signature
// and age.
type CodeViewRecord struct {
	Format CodeViewFormat `json:"format"`

	// Signature is the PDB70 GUID formatted as a string; empty for PDB20.
	Signature string `json:"signature,omitempty"`

	// SignatureUint32 is the PDB20 32-bit timestamp signature; zero for PDB70.
	SignatureUint32 uint32 `json:"signature_uint32,omitempty"`

	Age         uint32 `json:"age"`
	PDBFileName string `json:"pdb_file_name"`
}

// VersionInfo decomposes the VS_FIXEDFILEINFO block embedded in every module
// record, validated only when its signature field matches 0xFEEF04BD (the
// same constant the PE engine's version.go guards VS_VERSION_INFO with).
type VersionInfo struct {
	FileVersion    [4]uint16 `json:"file_version"`
	ProductVersion [4]uint16 `json:"product_version"`
	FileFlagsMask  uint32    `json:"file_flags_mask"`
	FileFlags      uint32    `json:"file_flags"`
	FileOS         uint32    `json:"file_os"`
	FileType       uint32    `json:"file_type"`
	FileSubtype    uint32    `json:"file_subtype"`
}

// Module describes one loaded image captured in the ModuleList stream.
type Module struct {
	BaseOfImage   Address         `json:"base_of_image"`
	SizeOfImage   uint32          `json:"size_of_image"`
	CheckSum      uint32          `json:"checksum"`
	TimeDateStamp uint32          `json:"time_date_stamp"`
	Name          string          `json:"name"`
	VersionInfo   *VersionInfo    `json:"version_info,omitempty"`
	CodeView      *CodeViewRecord `json:"code_view,omitempty"`
	HasMisc       bool            `json:"has_misc_record"`
}

// rawModule is the fixed 108-byte on-disk MINIDUMP_MODULE record.
type rawModule struct {
	BaseOfImage      uint64
	SizeOfImage      uint32
	CheckSum         uint32
	TimeDateStamp    uint32
	ModuleNameRVA    uint32
	VersionInfoRaw   [52]byte
	CvRecordDataSize uint32
	CvRecordRVA      uint32
	MiscRecordSize   uint32
	MiscRecordRVA    uint32
	Reserved0        uint64
	Reserved1        uint64
}

const moduleRecordSize = 108

// vsFixedFileInfoSignature is VS_FFI_SIGNATURE, the same 0xFEEF04BD constant
// named in the PE engine's version.go (VsFileInfoSignature).
const vsFixedFileInfoSignature = 0xFEEF04BD

// decodeModuleList decodes the u32-count-prefixed ModuleList stream into
// d.Modules, preserving directory order, and builds the address-range index
// the unwinder uses for module resolution.
func (d *Dump) decodeModuleList(e StreamDirEntry) error {
	if e.Length == 0 {
		return nil
	}
	count, err := d.ReadUint32(e.Offset)
	if err != nil {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: err.Error()}
	}

	modules := make([]*Module, 0, count)
	for i := uint32(0); i < count; i++ {
		off := e.Offset + 4 + i*moduleRecordSize
		m, err := d.decodeModule(off)
		if err != nil {
			d.logger.Warnf("module %d: %v, list truncates here", i, err)
			d.Anomalies = append(d.Anomalies, "ModuleList truncated decoding module")
			break
		}
		modules = append(modules, m)
	}

	d.Modules = modules
	d.moduleRanges = buildAddressRangeIndex(modules)
	return nil
}

func (d *Dump) decodeModule(off uint32) (*Module, error) {
	var raw rawModule
	if err := d.structUnpack(&raw, off, moduleRecordSize); err != nil {
		return nil, err
	}

	m := &Module{
		BaseOfImage:   Address(raw.BaseOfImage),
		SizeOfImage:   raw.SizeOfImage,
		CheckSum:      raw.CheckSum,
		TimeDateStamp: raw.TimeDateStamp,
		HasMisc:       raw.MiscRecordSize > 0,
	}

	name, err := d.readUTF16String(raw.ModuleNameRVA)
	if err != nil {
		d.logger.Warnf("module name at 0x%x: %v", raw.ModuleNameRVA, err)
	} else {
		m.Name = name
	}

	if sig := binary.LittleEndian.Uint32(raw.VersionInfoRaw[:4]); sig == vsFixedFileInfoSignature {
		m.VersionInfo = decodeFixedFileInfo(raw.VersionInfoRaw)
	}

	if raw.CvRecordDataSize > 0 {
		cv, err := d.decodeCodeView(raw.CvRecordRVA, raw.CvRecordDataSize)
		if err != nil {
			d.logger.Warnf("module %s: codeview record: %v", m.Name, err)
		} else {
			m.CodeView = cv
		}
	}

	return m, nil
}

func decodeFixedFileInfo(raw [52]byte) *VersionInfo {
	u32 := func(i int) uint32 { return binary.LittleEndian.Uint32(raw[i:]) }
	fileMS, fileLS := u32(8), u32(12)
	prodMS, prodLS := u32(16), u32(20)
	return &VersionInfo{
		FileVersion:    [4]uint16{uint16(fileMS >> 16), uint16(fileMS), uint16(fileLS >> 16), uint16(fileLS)},
		ProductVersion: [4]uint16{uint16(prodMS >> 16), uint16(prodMS), uint16(prodLS >> 16), uint16(prodLS)},
		FileFlagsMask:  u32(24),
		FileFlags:      u32(28),
		FileOS:         u32(32),
		FileType:       u32(36),
		FileSubtype:    u32(40),
	}
}

// decodeCodeView dispatches a module's CodeView blob on its 4-byte magic,
// the same RSDS/NB10 split the PE engine's debug.go uses for PE debug
// directory entries.
func (d *Dump) decodeCodeView(rva, size uint32) (*CodeViewRecord, error) {
	magic, err := d.ReadUint32(rva)
	if err != nil {
		return nil, err
	}

	switch magic {
	case cvSignatureRSDS:
		var guid GUID
		if err := d.structUnpack(&guid, rva+4, 16); err != nil {
			return nil, err
		}
		age, err := d.ReadUint32(rva + 4 + 16)
		if err != nil {
			return nil, err
		}
		nameOff := rva + 4 + 16 + 4
		nameLen := size - (4 + 16 + 4)
		raw, err := d.slice(nameOff, nameLen)
		if err != nil {
			return nil, err
		}
		return &CodeViewRecord{
			Format:      CodeViewPDB70,
			Signature:   guid.String(),
			Age:         age,
			PDBFileName: asciiZString(raw),
		}, nil

	case cvSignatureNB10:
		sig, err := d.ReadUint32(rva + 8)
		if err != nil {
			return nil, err
		}
		age, err := d.ReadUint32(rva + 12)
		if err != nil {
			return nil, err
		}
		nameOff := rva + 16
		nameLen := size - 16
		raw, err := d.slice(nameOff, nameLen)
		if err != nil {
			return nil, err
		}
		return &CodeViewRecord{
			Format:          CodeViewPDB20,
			SignatureUint32: sig,
			Age:             age,
			PDBFileName:     asciiZString(raw),
		}, nil

	default:
		return &CodeViewRecord{Format: CodeViewUnknown}, nil
	}
}

// addressRange is one entry of the module address-range index: the half
// open [Base, Base+Size) range a module occupies, plus its index into
// Dump.Modules.
type addressRange struct {
	base  uint64
	end   uint64
	index int
}

// addressRangeIndex is a base-sorted slice searched with binary search; no
// hash map is needed for the number of modules a process typically loads.
type addressRangeIndex []addressRange

func buildAddressRangeIndex(modules []*Module) addressRangeIndex {
	idx := make(addressRangeIndex, 0, len(modules))
	for i, m := range modules {
		base := uint64(m.BaseOfImage)
		idx = append(idx, addressRange{base: base, end: base + uint64(m.SizeOfImage), index: i})
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].base < idx[j].base })
	return idx
}

// lookup returns the index into the original Modules slice of the module
// whose [base, base+size) range contains addr, or -1 if none does.
func (idx addressRangeIndex) lookup(addr uint64) int {
	i := sort.Search(len(idx), func(i int) bool { return idx[i].base > addr })
	// i is the first entry with base > addr; the candidate is i-1.
	if i == 0 {
		return -1
	}
	r := idx[i-1]
	if addr >= r.base && addr < r.end {
		return r.index
	}
	return -1
}

// contains reports whether addr falls within any loaded module's range,
// used by the unwinder's frame-pointer and scan strategies to approximate
// "executable memory".
func (idx addressRangeIndex) contains(addr uint64) bool {
	return idx.lookup(addr) >= 0
}
