// Package elfw implements ELF64 object packaging for the two sBPF wire
// formats: V1 produces an ET_DYN object with dynamic relocations
// (.dynsym/.dynstr/.rel.dyn/.dynamic, DT_TEXTREL, exactly three program
// headers); V2 produces a flat object with syscall hashes baked directly
// into .text and no relocation sections at all.
// Built as a bottom-up layout map of offset/addr/size per section,
// assembled into bytes.Buffer fields and written out via encoding/binary,
// rather than through a generic object-file library -- hand-rolling the
// exact bytes this one target needs is simpler than bringing in a
// general-purpose ELF-writing dependency for two fixed layouts.
package elfw

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/xyproto/solisp/encode"
	"github.com/xyproto/solisp/syscalls"
)

const (
	elfHeaderSize  = 64
	progHeaderSize = 56
	dynSymSize     = 24
	relSize        = 16
	dynEntSize     = 16

	etDyn      = 3
	emBPF      = 247
	ptLoad     = 1
	ptDynamic  = 2
	pfR        = 4
	pfX        = 1
	pfW        = 2

	dtRel     = 17
	dtRelSz   = 18
	dtRelEnt  = 19
	dtSymTab  = 6
	dtStrTab  = 5
	dtStrSz   = 10
	dtSymEnt  = 11
	dtTextRel = 22
	dtNull    = 0

	rBPF6432 = 10 // R_BPF_64_32: word-sized, used for syscall imm patching
)

// ElfLayoutError reports a section-layout invariant the writer itself
// caught before ever producing bytes.
type ElfLayoutError struct {
	Reason string
}

func (e *ElfLayoutError) Error() string { return "elf layout: " + e.Reason }

// Options controls which wire variant gets produced.
type Options struct {
	Version int // 1 or 2
}

// Write packages code (already verified) plus the registered syscalls into
// a complete ELF64 object in the requested wire-format variant.
func Write(code []byte, relocs []encode.Relocation, reg *syscalls.Registry, opts Options) ([]byte, error) {
	if opts.Version == 1 {
		return writeV1(code, relocs, reg)
	}
	if opts.Version == 2 {
		return writeV2(code)
	}
	return nil, &ElfLayoutError{Reason: fmt.Sprintf("unsupported sbpf_version %d", opts.Version)}
}

// writeV2 is the simple case: one RX LOAD segment covering .text, no
// dynamic sections, e_flags=0x20 marking the static-syscall-hash variant.
func writeV2(code []byte) ([]byte, error) {
	numProgHeaders := 1
	headerTotal := elfHeaderSize + progHeaderSize*numProgHeaders
	textOffset := alignUp(headerTotal, 8)

	var buf bytes.Buffer
	writeELFHeader(&buf, etDyn, 0x20, uint64(textOffset), numProgHeaders)

	writeProgHeader(&buf, ptLoad, pfR|pfX, uint64(textOffset), uint64(textOffset), uint64(len(code)), 8)

	pad(&buf, textOffset-buf.Len())
	buf.Write(code)

	return buf.Bytes(), nil
}

// writeV1 builds the dynamic-relocation variant: .dynsym/.dynstr/.rel.dyn/
// .dynamic sections plus exactly three program headers (PT_LOAD for the
// section data, PT_LOAD for .text, PT_DYNAMIC).
func writeV1(code []byte, relocs []encode.Relocation, reg *syscalls.Registry) ([]byte, error) {
	entries := reg.Entries()

	var dynstr bytes.Buffer
	dynstr.WriteByte(0) // index 0 is always the empty string
	nameOff := map[string]uint32{}
	for _, e := range entries {
		nameOff[e.Name] = uint32(dynstr.Len())
		dynstr.WriteString(e.Name)
		dynstr.WriteByte(0)
	}

	var dynsym bytes.Buffer
	writeDynSymEntry(&dynsym, 0, 0, 0, 0) // null symbol
	symIndex := map[string]uint32{}
	for i, e := range entries {
		symIndex[e.Name] = uint32(i + 1)
		writeDynSymEntry(&dynsym, nameOff[e.Name], 0x10 /* STB_GLOBAL|STT_NOTYPE */, 0, 0)
	}

	var rel bytes.Buffer
	for _, r := range relocs {
		sidx, ok := symIndex[r.Syscall]
		if !ok {
			return nil, &ElfLayoutError{Reason: fmt.Sprintf("relocation for unregistered syscall %q", r.Syscall)}
		}
		writeRelEntry(&rel, uint64(r.WordIndex*8+4), sidx, rBPF6432)
	}

	numProgHeaders := 3
	headerTotal := elfHeaderSize + progHeaderSize*numProgHeaders

	sectOffset := alignUp(headerTotal, 8)
	dynsymOff := sectOffset
	dynstrOff := alignUp(dynsymOff+dynsym.Len(), 8)
	relOff := alignUp(dynstrOff+dynstr.Len(), 8)
	sectEnd := relOff + rel.Len()

	textOffset := alignUp(sectEnd, 8)
	textAddr := uint64(textOffset)

	dynamicOffset := alignUp(textOffset+len(code), 8)
	dynamicAddr := uint64(dynamicOffset)

	dynsymAddr := uint64(dynsymOff)
	dynstrAddr := uint64(dynstrOff)
	relAddr := uint64(relOff)

	var dynamic bytes.Buffer
	writeDynEntry(&dynamic, dtSymTab, dynsymAddr)
	writeDynEntry(&dynamic, dtStrTab, dynstrAddr)
	writeDynEntry(&dynamic, dtStrSz, uint64(dynstr.Len()))
	writeDynEntry(&dynamic, dtSymEnt, dynSymSize)
	writeDynEntry(&dynamic, dtRel, relAddr)
	writeDynEntry(&dynamic, dtRelSz, uint64(rel.Len()))
	writeDynEntry(&dynamic, dtRelEnt, relSize)
	writeDynEntry(&dynamic, dtTextRel, 0)
	writeDynEntry(&dynamic, dtNull, 0)

	var buf bytes.Buffer
	writeELFHeader(&buf, etDyn, 0x0, textAddr, numProgHeaders)

	sectSegSize := uint64(sectEnd)
	writeProgHeader(&buf, ptLoad, pfR, 0, 0, sectSegSize, 8)
	writeProgHeader(&buf, ptLoad, pfR|pfX, uint64(textOffset), uint64(textOffset), uint64(len(code)), 8)
	writeProgHeader(&buf, ptDynamic, pfR|pfW, uint64(dynamicOffset), dynamicAddr, uint64(dynamic.Len()), 8)

	pad(&buf, dynsymOff-buf.Len())
	buf.Write(dynsym.Bytes())
	pad(&buf, dynstrOff-buf.Len())
	buf.Write(dynstr.Bytes())
	pad(&buf, relOff-buf.Len())
	buf.Write(rel.Bytes())
	pad(&buf, textOffset-buf.Len())
	buf.Write(code)
	pad(&buf, dynamicOffset-buf.Len())
	buf.Write(dynamic.Bytes())

	return buf.Bytes(), nil
}

func alignUp(v int, align int) int {
	return (v + align - 1) &^ (align - 1)
}

func pad(buf *bytes.Buffer, n int) {
	for i := 0; i < n; i++ {
		buf.WriteByte(0)
	}
}

func writeELFHeader(buf *bytes.Buffer, etype uint16, flags uint32, entry uint64, numProgHeaders int) {
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	pad(buf, 8) // e_ident padding
	binary.Write(buf, binary.LittleEndian, etype)
	binary.Write(buf, binary.LittleEndian, uint16(emBPF))
	binary.Write(buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(buf, binary.LittleEndian, entry)
	binary.Write(buf, binary.LittleEndian, uint64(elfHeaderSize)) // e_phoff
	binary.Write(buf, binary.LittleEndian, uint64(0))             // e_shoff
	binary.Write(buf, binary.LittleEndian, flags)
	binary.Write(buf, binary.LittleEndian, uint16(elfHeaderSize))
	binary.Write(buf, binary.LittleEndian, uint16(progHeaderSize))
	binary.Write(buf, binary.LittleEndian, uint16(numProgHeaders))
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shstrndx
}

func writeProgHeader(buf *bytes.Buffer, ptype, flags uint32, offset, addr, size uint64, align uint64) {
	binary.Write(buf, binary.LittleEndian, ptype)
	binary.Write(buf, binary.LittleEndian, flags)
	binary.Write(buf, binary.LittleEndian, offset)
	binary.Write(buf, binary.LittleEndian, addr)
	binary.Write(buf, binary.LittleEndian, addr)
	binary.Write(buf, binary.LittleEndian, size)
	binary.Write(buf, binary.LittleEndian, size)
	binary.Write(buf, binary.LittleEndian, align)
}

func writeDynSymEntry(buf *bytes.Buffer, nameOff uint32, info, other byte, shndx uint16) {
	binary.Write(buf, binary.LittleEndian, nameOff)
	buf.WriteByte(info)
	buf.WriteByte(other)
	binary.Write(buf, binary.LittleEndian, shndx)
	binary.Write(buf, binary.LittleEndian, uint64(0)) // st_value
	binary.Write(buf, binary.LittleEndian, uint64(0)) // st_size
}

func writeRelEntry(buf *bytes.Buffer, offset uint64, symIndex uint32, relType uint32) {
	binary.Write(buf, binary.LittleEndian, offset)
	info := uint64(symIndex)<<32 | uint64(relType)
	binary.Write(buf, binary.LittleEndian, info)
}

func writeDynEntry(buf *bytes.Buffer, tag int64, val uint64) {
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, val)
}
