// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "fmt"

// Result is the single UI-ready document Parse produces: every stream the
// walker recognized, decoded, classified and (for threads) unwound, plus the
// bookkeeping fields a caller needs without re-walking the directory itself.
type Result struct {
	StreamsPresent []string `json:"streams_present"`

	HasSystemInfo bool `json:"has_system_info"`
	HasException  bool `json:"has_exception"`
	HasThreads    bool `json:"has_threads"`
	HasModules    bool `json:"has_modules"`
	HasMemory     bool `json:"has_memory"`
	HasMemoryInfo bool `json:"has_memory_info"`

	ModulesCount int `json:"modules_count"`
	ThreadsCount int `json:"threads_count"`

	SystemInfo *SystemInfo       `json:"system_info,omitempty"`
	Exception  *Exception        `json:"exception_info,omitempty"`
	Threads    []*Thread         `json:"threads_data,omitempty"`
	Modules    []*Module         `json:"modules_data,omitempty"`
	Memory     []MemoryRegion    `json:"memory_data,omitempty"`
	MemoryInfo []MemoryInfoRange `json:"memory_info_data,omitempty"`

	Anomalies []string `json:"anomalies,omitempty"`
}

// decodeStreams dispatches every directory entry this engine recognizes to
// its decoder, isolating failures per stream exactly the way the PE engine's
// file.go ParseDataDirectories recovers from one bad directory entry and
// continues with the rest: one stream failing to decode never aborts the
// streams after it. SystemInfo is decoded first since thread and exception
// contexts take their architecture from it, and ThreadList before Exception
// since the exception's thread id is checked against the decoded threads.
// The unwinder runs only after every stream is decoded, once the module
// address-range index is built.
func (d *Dump) decodeStreams() {
	order := []StreamType{
		StreamSystemInfo,
		StreamModuleList,
		StreamMemoryList,
		StreamMemoryInfoList,
		StreamThreadList,
		StreamException,
	}

	for _, t := range order {
		e, ok := d.firstEntry(t)
		if !ok {
			continue
		}
		if err := d.decodeStream(t, e); err != nil {
			d.logger.Warnf("stream %s: %v", t.String(), err)
			d.Anomalies = append(d.Anomalies, fmt.Sprintf("%s: %v", t.String(), err))
		}
	}

	for _, thr := range d.Threads {
		d.unwind(thr)
	}
}

// decodeStream recovers from a panic in any single decoder the way
// ParseDataDirectories does, so a malformed record in one stream can never
// take down the streams decoded after it.
func (d *Dump) decodeStream(t StreamType, e StreamDirEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic decoding stream: %v", r)
		}
	}()

	switch t {
	case StreamSystemInfo:
		return d.decodeSystemInfo(e)
	case StreamModuleList:
		return d.decodeModuleList(e)
	case StreamMemoryList:
		return d.decodeMemoryList(e)
	case StreamMemoryInfoList:
		return d.decodeMemoryInfoList(e)
	case StreamThreadList:
		return d.decodeThreadList(e)
	case StreamException:
		return d.decodeException(e)
	}
	return nil
}

// buildResult assembles the final Result from whatever decodeStreams managed
// to populate. Presence flags and counts are derived from the decoded
// fields themselves rather than from the directory, so a stream that was
// present but failed to decode correctly reports false/0.
func (d *Dump) buildResult() *Result {
	r := &Result{
		StreamsPresent: d.streamsPresent(),
		Anomalies:      d.Anomalies,

		SystemInfo: d.SystemInfo,
		Exception:  d.Exception,
		Threads:    d.Threads,
		Modules:    d.Modules,
		Memory:     d.Memory,
		MemoryInfo: d.MemoryInfo,
	}

	r.HasSystemInfo = d.SystemInfo != nil
	r.HasException = d.Exception != nil
	r.HasThreads = len(d.Threads) > 0
	r.HasModules = len(d.Modules) > 0
	r.HasMemory = len(d.Memory) > 0
	r.HasMemoryInfo = len(d.MemoryInfo) > 0

	r.ModulesCount = len(d.Modules)
	r.ThreadsCount = len(d.Threads)

	return r
}
