// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package minidump implements a client-side parser for the Microsoft Minidump
// container format (.dmp / .mdmp). Given an opaque byte buffer, it walks the
// stream directory, decodes the streams it recognizes into well-typed
// entities, classifies per-architecture CPU register contexts, and runs a
// best-effort stack unwinder, producing a single UI-ready Result document.
//
// Decoding never writes to the input buffer and never aliases it in the
// returned Result: every field that outlives the call is a copy.
package minidump

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/saferwall/minidump/log"
)

// Header signature/version constants.
const (
	// Signature is the 4-byte magic tag every minidump begins with ('MDMP').
	Signature = 0x504D444D

	// VersionWord is the version word this engine recognizes. A mismatch is
	// reported as UnsupportedVersion but does not abort parsing.
	VersionWord = 0xA793

	// HeaderSize is the fixed size, in bytes, of the minidump header.
	HeaderSize = 32

	// DirectoryEntrySize is the fixed size, in bytes, of one stream
	// directory entry.
	DirectoryEntrySize = 12
)

// StreamType identifies the kind of record carried by one directory entry.
type StreamType uint32

// Stream types this engine decodes. Tags not in this table are recorded in
// streams_present but never handed to a decoder.
const (
	StreamThreadList     StreamType = 3
	StreamModuleList     StreamType = 4
	StreamMemoryList     StreamType = 5
	StreamException      StreamType = 6
	StreamSystemInfo     StreamType = 7
	StreamMemoryInfoList StreamType = 16
)

// String returns the stream's canonical name, or its hex tag if unknown.
func (s StreamType) String() string {
	switch s {
	case StreamThreadList:
		return "ThreadList"
	case StreamModuleList:
		return "ModuleList"
	case StreamMemoryList:
		return "MemoryList"
	case StreamException:
		return "Exception"
	case StreamSystemInfo:
		return "SystemInfo"
	case StreamMemoryInfoList:
		return "MemoryInfoList"
	}
	return hex32(uint32(s))
}

// Header is the fixed 32-byte record at the start of every minidump.
type Header struct {
	Signature     uint32 `json:"signature"`
	Version       uint32 `json:"version"`
	StreamCount   uint32 `json:"stream_count"`
	DirectoryRVA  uint32 `json:"directory_rva"`
	CheckSum      uint32 `json:"checksum"`
	TimeDateStamp uint32 `json:"time_date_stamp"`
	Flags         uint64 `json:"flags"`
}

// StreamDirEntry is one decoded entry from the stream directory: a stream
// type tagged with the byte range (within the input buffer) holding its
// record.
type StreamDirEntry struct {
	Type   StreamType `json:"type"`
	Name   string     `json:"name"`
	Offset uint32     `json:"offset"`
	Length uint32     `json:"length"`
}

// Options configures parsing. A zero Options is valid; every field defaults
// to the value named in its comment.
type Options struct {
	// MaxFrames bounds the number of stack frames the unwinder will emit for
	// a single thread, by default (DefaultMaxFrames).
	MaxFrames int

	// MaxScanSlots bounds how many word-aligned stack slots the Scan
	// strategy will examine for a single thread, by default
	// (DefaultMaxScanSlots).
	MaxScanSlots int

	// Logger is a custom logger; by default a stderr-backed logger filtered
	// to LevelError, matching file.go's default.
	Logger log.Logger
}

// Recommended caps for the unwinder's frame count and scan-slot budget.
const (
	DefaultMaxFrames    = 256
	DefaultMaxScanSlots = 1024
)

// Dump is an opened minidump: the container walker's output plus the decoded
// streams produced by the coordinator in result.go. Dump owns the input
// bytes; every other entity (SystemInfo, Threads, Modules, ...) holds only
// decoded copies, never a slice of d.data.
type Dump struct {
	Header    Header           `json:"header"`
	Directory []StreamDirEntry `json:"directory"`

	data   []byte
	size   uint32
	m      mmap.MMap
	f      *os.File
	opts   *Options
	logger *log.Helper

	// streams indexes directory entries by type in directory order. A type
	// may have more than one entry; decoders that expect a single stream
	// (SystemInfo, ThreadList, ModuleList, MemoryList, Exception,
	// MemoryInfoList) use the first and note the rest in Anomalies.
	streams map[StreamType][]StreamDirEntry

	Anomalies []string `json:"anomalies,omitempty"`

	SystemInfo *SystemInfo       `json:"system_info,omitempty"`
	Exception  *Exception        `json:"exception,omitempty"`
	Threads    []*Thread         `json:"threads,omitempty"`
	Modules    []*Module         `json:"modules,omitempty"`
	Memory     []MemoryRegion    `json:"memory,omitempty"`
	MemoryInfo []MemoryInfoRange `json:"memory_info,omitempty"`

	moduleRanges addressRangeIndex
}

// New opens the minidump at path by memory-mapping it.
func New(path string, opts *Options) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	d := newDump(opts)
	d.data = data
	d.size = uint32(len(data))
	d.m = data
	d.f = f
	return d, nil
}

// NewBytes opens the minidump already held in memory. This is the primary
// entry point the core engine describes: "given bytes, produce a result
// document."
func NewBytes(data []byte, opts *Options) (*Dump, error) {
	d := newDump(opts)
	d.data = data
	d.size = uint32(len(data))
	return d, nil
}

func newDump(opts *Options) *Dump {
	d := &Dump{streams: make(map[StreamType][]StreamDirEntry)}
	if opts != nil {
		d.opts = opts
	} else {
		d.opts = &Options{}
	}
	if d.opts.MaxFrames == 0 {
		d.opts.MaxFrames = DefaultMaxFrames
	}
	if d.opts.MaxScanSlots == 0 {
		d.opts.MaxScanSlots = DefaultMaxScanSlots
	}

	var logger log.Logger
	if d.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stderr)
		d.logger = log.NewHelper(log.NewFilter(logger, log.FilterLevel(log.LevelError)))
	} else {
		d.logger = log.NewHelper(d.opts.Logger)
	}
	return d
}

// Close releases the memory mapping opened by New. NewBytes-backed Dumps
// have nothing to release.
func (d *Dump) Close() error {
	if d.m != nil {
		_ = d.m.Unmap()
	}
	if d.f != nil {
		return d.f.Close()
	}
	return nil
}
