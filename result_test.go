// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "testing"

// blobBuilder assembles a minidump byte buffer incrementally, tracking the
// absolute offset of each appended chunk so RVAs can reference it, the way
// a real minidump writer lays out its stream payloads back to back after
// the fixed header and directory.
type blobBuilder struct {
	buf []byte
}

func (b *blobBuilder) append(chunk []byte) uint32 {
	off := uint32(len(b.buf))
	b.buf = append(b.buf, chunk...)
	return off
}

// TestParseMinimalValidDump builds a minidump with SystemInfo, one module,
// one thread (with an AMD64 context and a stack snapshot) and an Exception
// stream, and exercises the whole walker + decoders + unwinder pipeline
// through the public Parse entry point.
func TestParseMinimalValidDump(t *testing.T) {
	b := &blobBuilder{}

	const headerSize = HeaderSize
	const dirEntries = 4
	directoryRVA := uint32(headerSize)
	b.append(make([]byte, headerSize+dirEntries*DirectoryEntrySize))

	// SystemInfo.
	si := rawSystemInfo{ProcessorArchitecture: uint16(ArchAMD64), NumberOfProcessors: 1, MajorVersion: 10, BuildNumber: 19045}
	sysInfoOff := b.append(pack(si))

	// ModuleList: one module, name and CodeView placed right after the
	// fixed-size module record.
	moduleListOff := b.append(putUint32LE(1))
	moduleRecordOff := uint32(len(b.buf))
	b.append(make([]byte, moduleRecordSize)) // placeholder, patched below
	nameOff := b.append(utf16LEString("C:\\app.exe"))
	module := rawModule{
		BaseOfImage:   0x7ff600000000,
		SizeOfImage:   0x10000,
		ModuleNameRVA: nameOff,
	}
	copy(b.buf[moduleRecordOff:moduleRecordOff+moduleRecordSize], pack(module))

	// ThreadList: one thread, stack + context placed after the record.
	threadListOff := b.append(putUint32LE(1))
	threadRecordOff := uint32(len(b.buf))
	b.append(make([]byte, threadRecordSize)) // placeholder
	stackStart := uint64(0x2000000)
	stack := make([]byte, 32)
	stackOff := b.append(stack)
	ctx := amd64ContextBlob(0x7ff600000500, stackStart, 0)
	ctxOff := b.append(ctx)
	thread := rawThread{
		ThreadID:        1,
		Teb:             0x7ff000,
		StackStart:      stackStart,
		StackDataSize:   uint32(len(stack)),
		StackRVA:        stackOff,
		ContextDataSize: uint32(len(ctx)),
		ContextRVA:      ctxOff,
	}
	copy(b.buf[threadRecordOff:threadRecordOff+threadRecordSize], pack(thread))

	// Exception, referencing thread 1.
	excOff := b.append(buildExceptionStream(1, ExceptionAccessViolation, 0x7ff600000500, nil))

	directory := []byte{}
	directory = append(directory, dirEntryBytes(StreamSystemInfo, sysInfoOff, systemInfoRecordSize)...)
	directory = append(directory, dirEntryBytes(StreamModuleList, moduleListOff, uint32(len(b.buf)-int(moduleListOff)))...)
	directory = append(directory, dirEntryBytes(StreamThreadList, threadListOff, uint32(0))...) // length unused by decoder beyond >0 check
	directory = append(directory, dirEntryBytes(StreamException, excOff, uint32(len(b.buf)-int(excOff)))...)
	copy(b.buf[headerSize:headerSize+len(directory)], directory)

	header := minidumpHeaderBytes(dirEntries, directoryRVA)
	copy(b.buf[:headerSize], header)
	// Fix the ThreadList directory entry's length now that threadListOff's
	// stream length is known (everything from its start up to the
	// exception stream).
	threadListLen := excOff - threadListOff
	copy(b.buf[headerSize+2*DirectoryEntrySize:headerSize+3*DirectoryEntrySize], dirEntryBytes(StreamThreadList, threadListOff, threadListLen))

	d, err := NewBytes(b.buf, &Options{})
	if err != nil {
		t.Fatalf("NewBytes: %v", err)
	}
	res, err := d.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !res.HasSystemInfo || res.SystemInfo.OS != "10.0.19045" {
		t.Errorf("SystemInfo = %+v", res.SystemInfo)
	}
	if res.ModulesCount != 1 || res.Modules[0].Name != "C:\\app.exe" {
		t.Errorf("Modules = %+v", res.Modules)
	}
	if res.ThreadsCount != 1 {
		t.Fatalf("ThreadsCount = %d, want 1", res.ThreadsCount)
	}
	frame0 := res.Threads[0].StackFrames[0]
	if frame0.InstructionAddress != 0x7ff600000500 {
		t.Errorf("frame 0 address = 0x%x", frame0.InstructionAddress)
	}
	if frame0.Trust != TrustContext {
		t.Errorf("frame 0 trust = %v, want context", frame0.Trust)
	}
	if frame0.ModuleName != "C:\\app.exe" {
		t.Errorf("frame 0 module = %q, want the module containing RIP", frame0.ModuleName)
	}
	if !res.HasException || res.Exception.CrashReason != "ACCESS_VIOLATION" {
		t.Errorf("Exception = %+v", res.Exception)
	}
	for _, name := range []string{"SystemInfo", "ModuleList", "ThreadList", "Exception"} {
		found := false
		for _, s := range res.StreamsPresent {
			if s == name {
				found = true
			}
		}
		if !found {
			t.Errorf("StreamsPresent missing %s: %v", name, res.StreamsPresent)
		}
	}
}

func TestParseBadSignatureAbortsWholeParse(t *testing.T) {
	d, err := NewBytes([]byte("definitely not a minidump, but long"), &Options{})
	if err != nil {
		t.Fatalf("NewBytes: %v", err)
	}
	if _, err := d.Parse(); err == nil {
		t.Fatal("expected Parse to fail on a bad signature")
	}
}
