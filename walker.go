// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// slice returns a bounds-checked view into the dump's byte buffer. Every
// reader in helper.go and every stream decoder goes through this; nothing
// dereferences d.data directly, matching the container walker's contract in
// the container's fixed-size header and stream directory.
func (d *Dump) slice(offset, length uint32) ([]byte, error) {
	end := offset + length
	// Reject both the overflow case and the ordinary out-of-range case.
	if end < offset || end > d.size {
		return nil, ErrOutsideBoundary
	}
	return d.data[offset:end], nil
}

// Parse runs the container walker followed by every stream decoder and the
// unwinder, producing the Result document. This is the engine's single
// published entry point: "given bytes, produce a result document."
func (d *Dump) Parse() (*Result, error) {
	if err := d.parseHeader(); err != nil {
		return nil, err
	}
	if err := d.parseDirectory(); err != nil {
		return nil, err
	}
	d.decodeStreams()
	return d.buildResult(), nil
}

// parseHeader validates the signature and decodes the fixed 32-byte header.
// A signature mismatch, or a buffer too short to hold the header, aborts the
// whole parse with KindHeaderMismatch before any stream is touched.
func (d *Dump) parseHeader() error {
	if d.size < HeaderSize {
		return &ParseError{Kind: KindHeaderMismatch, Reason: ErrTruncatedHeader.Error()}
	}

	sig, err := d.ReadUint32(0)
	if err != nil || sig != Signature {
		return &ParseError{Kind: KindHeaderMismatch, Reason: ErrHeaderMismatch.Error()}
	}

	h := Header{}
	if err := d.structUnpack(&h, 0, HeaderSize); err != nil {
		return &ParseError{Kind: KindHeaderMismatch, Reason: err.Error()}
	}
	d.Header = h

	if h.Version&0xFFFF != VersionWord {
		d.Anomalies = append(d.Anomalies, "unsupported version word, parsing continues best-effort")
		d.logger.Warnf("unsupported minidump version word 0x%x", h.Version)
	}
	return nil
}

// parseDirectory reads stream_count directory entries starting at
// directory_rva, populating d.Directory and d.streams in directory order.
func (d *Dump) parseDirectory() error {
	count := d.Header.StreamCount
	need := uint64(count) * uint64(DirectoryEntrySize)
	if need > uint64(d.size) {
		return &ParseError{Kind: KindDirectoryOverflow, Reason: ErrDirectoryOverflow.Error()}
	}

	base := d.Header.DirectoryRVA
	d.Directory = make([]StreamDirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		off := base + i*DirectoryEntrySize
		raw := struct {
			StreamType uint32
			DataSize   uint32
			RVA        uint32
		}{}
		if err := d.structUnpack(&raw, off, DirectoryEntrySize); err != nil {
			return &ParseError{Kind: KindDirectoryOverflow, Reason: err.Error()}
		}

		st := StreamType(raw.StreamType)
		entry := StreamDirEntry{
			Type:   st,
			Name:   st.String(),
			Offset: raw.RVA,
			Length: raw.DataSize,
		}
		d.Directory = append(d.Directory, entry)

		if _, ok := d.streams[st]; ok {
			d.Anomalies = append(d.Anomalies, "duplicate stream directory entry for "+st.String())
		}
		d.streams[st] = append(d.streams[st], entry)
	}
	return nil
}

// firstEntry returns the first directory entry of the given type, or false
// if the stream is absent.
func (d *Dump) firstEntry(t StreamType) (StreamDirEntry, bool) {
	es, ok := d.streams[t]
	if !ok || len(es) == 0 {
		return StreamDirEntry{}, false
	}
	return es[0], true
}

// streamsPresent returns the directory's stream names in directory order
// (not decode order). Entries for unrecognized tags are included using
// their hex name.
func (d *Dump) streamsPresent() []string {
	names := make([]string, 0, len(d.Directory))
	for _, e := range d.Directory {
		names = append(names, e.Name)
	}
	return names
}
