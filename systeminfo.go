// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "fmt"

// ProcessorArchitecture identifies the CPU family a dump was captured on.
type ProcessorArchitecture uint16

// Architecture codes.
const (
	ArchIntel ProcessorArchitecture = 0
	ArchARM   ProcessorArchitecture = 5
	ArchIA64  ProcessorArchitecture = 6
	ArchAMD64 ProcessorArchitecture = 9
	ArchARM64 ProcessorArchitecture = 12
)

// String returns the wire name for a processor architecture, or
// "Unknown(<code>)" for a code outside the table this engine recognizes.
func (a ProcessorArchitecture) String() string {
	switch a {
	case ArchIntel:
		return "PROCESSOR_ARCHITECTURE_INTEL"
	case ArchARM:
		return "PROCESSOR_ARCHITECTURE_ARM"
	case ArchIA64:
		return "PROCESSOR_ARCHITECTURE_IA64"
	case ArchAMD64:
		return "PROCESSOR_ARCHITECTURE_AMD64"
	case ArchARM64:
		return "PROCESSOR_ARCHITECTURE_ARM64"
	}
	return fmt.Sprintf("Unknown(%d)", uint16(a))
}

// MarshalJSON surfaces the architecture under its wire name; the numeric
// code stays available through SystemInfo's raw block.
func (a ProcessorArchitecture) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// Supported reports whether the classifier in context.go carries a register
// table for this architecture.
func (a ProcessorArchitecture) Supported() bool {
	switch a {
	case ArchIntel, ArchAMD64, ArchARM, ArchARM64:
		return true
	}
	return false
}

// ProductType names the VER_NT_* product type byte.
type ProductType uint8

const (
	ProductWorkstation      ProductType = 1
	ProductDomainController ProductType = 2
	ProductServer           ProductType = 3
)

func (p ProductType) String() string {
	switch p {
	case ProductWorkstation:
		return "Workstation"
	case ProductDomainController:
		return "DomainController"
	case ProductServer:
		return "Server"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(p))
}

func (p ProductType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// PlatformID names the VER_PLATFORM_* platform id.
type PlatformID uint32

const (
	PlatformWin32s   PlatformID = 0
	PlatformWin32Win PlatformID = 1
	PlatformWin32NT  PlatformID = 2
	PlatformWinCE    PlatformID = 3
)

func (p PlatformID) String() string {
	switch p {
	case PlatformWin32s:
		return "Win32s"
	case PlatformWin32Win:
		return "Win32Windows"
	case PlatformWin32NT:
		return "Win32NT"
	case PlatformWinCE:
		return "WinCE"
	}
	return fmt.Sprintf("Unknown(%d)", uint32(p))
}

func (p PlatformID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// rawSystemInfo is the fixed 56-byte on-disk layout of the SystemInfo
// stream: 32 bytes of version/platform fields followed by a 24-byte CPU
// info union (3 vendor-id words + version info + feature bits + AMD
// extended feature bits on x86; an opaque 6-word array on every other
// architecture).
type rawSystemInfo struct {
	ProcessorArchitecture uint16
	ProcessorLevel        uint16
	ProcessorRevision     uint16
	NumberOfProcessors    uint8
	ProductType           uint8
	MajorVersion          uint32
	MinorVersion          uint32
	BuildNumber           uint32
	PlatformID            uint32
	CSDVersionRVA         uint32
	SuiteMask             uint16
	Reserved2             uint16
	Cpu                   [6]uint32
}

const systemInfoRecordSize = 56

// X86CPUInfo decomposes the CPU info union when ProcessorArchitecture is
// ArchIntel.
type X86CPUInfo struct {
	VendorID            string `json:"vendor_id"`
	VersionInformation  uint32 `json:"version_information"`
	FeatureInformation  uint32 `json:"feature_information"`
	AMDExtendedFeatures uint32 `json:"amd_extended_features"`
}

// SystemInfoRaw carries the numeric codes behind SystemInfo's named fields,
// so a consumer that wants the on-disk values never has to reverse a name.
type SystemInfoRaw struct {
	ProcessorArchitecture uint16 `json:"processor_architecture"`
	ProductType           uint8  `json:"product_type"`
	PlatformID            uint32 `json:"platform_id"`
}

// SystemInfo describes the host the minidump was captured on.
type SystemInfo struct {
	ProcessorArchitecture ProcessorArchitecture `json:"processor_architecture"`
	ProcessorLevel        uint16                `json:"processor_level"`
	ProcessorRevision     uint16                `json:"processor_revision"`
	NumberOfProcessors    uint8                 `json:"number_of_processors"`
	ProductType           ProductType           `json:"product_type"`
	MajorVersion          uint32                `json:"major_version"`
	MinorVersion          uint32                `json:"minor_version"`
	BuildNumber           uint32                `json:"build_number"`
	PlatformID            PlatformID            `json:"platform_id"`
	SuiteMask             uint16                `json:"suite_mask"`
	CSDVersion            string                `json:"csd_version"`

	Raw SystemInfoRaw `json:"raw"`

	// OS is a human-readable "major.minor.build" summary string, a
	// presentation-facing convenience field alongside the raw values above.
	OS string `json:"os"`

	// X86 is populated only when ProcessorArchitecture == ArchIntel.
	X86 *X86CPUInfo `json:"x86,omitempty"`

	// RawCPUInfo carries the 6-word CPU union verbatim for every other
	// architecture, surfaced only as a raw word array rather than decoded fields.
	RawCPUInfo []uint32 `json:"raw_cpu_info,omitempty"`
}

// decodeSystemInfo decodes the single SystemInfo stream. Duplicates are
// recorded as an anomaly by parseDirectory and the first entry wins here.
func (d *Dump) decodeSystemInfo(e StreamDirEntry) error {
	if e.Length == 0 {
		return nil
	}
	if e.Length < systemInfoRecordSize {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: "record shorter than 56 bytes"}
	}

	var raw rawSystemInfo
	if err := d.structUnpack(&raw, e.Offset, systemInfoRecordSize); err != nil {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: err.Error()}
	}

	si := &SystemInfo{
		ProcessorArchitecture: ProcessorArchitecture(raw.ProcessorArchitecture),
		ProcessorLevel:        raw.ProcessorLevel,
		ProcessorRevision:     raw.ProcessorRevision,
		NumberOfProcessors:    raw.NumberOfProcessors,
		ProductType:           ProductType(raw.ProductType),
		MajorVersion:          raw.MajorVersion,
		MinorVersion:          raw.MinorVersion,
		BuildNumber:           raw.BuildNumber,
		PlatformID:            PlatformID(raw.PlatformID),
		SuiteMask:             raw.SuiteMask,
		Raw: SystemInfoRaw{
			ProcessorArchitecture: raw.ProcessorArchitecture,
			ProductType:           raw.ProductType,
			PlatformID:            raw.PlatformID,
		},
	}
	si.OS = fmt.Sprintf("%d.%d.%d", raw.MajorVersion, raw.MinorVersion, raw.BuildNumber)

	if !si.ProcessorArchitecture.Supported() {
		d.logger.Warnf("unsupported processor architecture %d", raw.ProcessorArchitecture)
	}

	if si.ProcessorArchitecture == ArchIntel {
		vendor := make([]byte, 12)
		for i := 0; i < 3; i++ {
			vendor[i*4] = byte(raw.Cpu[i])
			vendor[i*4+1] = byte(raw.Cpu[i] >> 8)
			vendor[i*4+2] = byte(raw.Cpu[i] >> 16)
			vendor[i*4+3] = byte(raw.Cpu[i] >> 24)
		}
		si.X86 = &X86CPUInfo{
			VendorID:            asciiZString(vendor),
			VersionInformation:  raw.Cpu[3],
			FeatureInformation:  raw.Cpu[4],
			AMDExtendedFeatures: raw.Cpu[5],
		}
	} else {
		si.RawCPUInfo = append([]uint32(nil), raw.Cpu[:]...)
	}

	if raw.CSDVersionRVA != 0 {
		s, err := d.readUTF16String(raw.CSDVersionRVA)
		if err != nil {
			d.logger.Warnf("failed to read CSD version string: %v", err)
		} else {
			si.CSDVersion = s
		}
	}

	d.SystemInfo = si
	return nil
}
