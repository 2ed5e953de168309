// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// KcorePath is the ELF view of the running kernel's memory.
const KcorePath = "/proc/kcore"

var mapFile = func(f *os.File, offset int64, length int) (data []byte, unmap func() error, err error) {
	return nil, nil, errors.New("file mapping is not implemented")
}

// Open returns the image of the kernel whose memory is in the ELF
// file vmcore (a kdump vmcore, or /proc/kcore for the running kernel).
// Symbols and types come from vmlinux, the matching uncompressed
// kernel with debug info.
func Open(vmcore, vmlinux string) (*Image, error) {
	core, err := os.Open(vmcore)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open vmcore")
	}
	p := &Image{
		syms:    map[string]Address{},
		types:   map[string]*Type{},
		closers: []func() error{core.Close},
		live:    vmcore == KcorePath,
	}
	if err := p.readCore(core); err != nil {
		p.Close()
		return nil, err
	}
	if vmlinux != "" {
		if err := p.readVmlinux(vmlinux); err != nil {
			p.Close()
			return nil, err
		}
	} else {
		p.warnings = append(p.warnings, "No vmlinux given. Symbols and types are unavailable.")
	}
	return p, nil
}

// OpenLive returns the image of the running kernel.
func OpenLive(vmlinux string) (*Image, error) {
	return Open(KcorePath, vmlinux)
}

// IsLive reports whether the image reads the running kernel, whose
// memory changes between reads.
func (p *Image) IsLive() bool {
	return p.live
}

func (p *Image) readCore(core *os.File) error {
	e, err := elf.NewFile(core)
	if err != nil {
		return errors.Wrapf(err, "reading %s", core.Name())
	}
	if e.Type != elf.ET_CORE {
		return errors.Errorf("%s is not a core file", core.Name())
	}
	switch e.Class {
	case elf.ELFCLASS32:
		p.ptrSize = 4
	case elf.ELFCLASS64:
		p.ptrSize = 8
	default:
		return errors.Errorf("unknown elf class %s", e.Class)
	}
	p.byteOrder = e.ByteOrder

	for _, prog := range e.Progs {
		if prog.Type == elf.PT_LOAD {
			p.readLoad(core, prog)
		}
	}
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_NOTE {
			if err := p.readNote(core, e, prog.Off, prog.Filesz); err != nil {
				p.warnings = append(p.warnings, fmt.Sprintf("reading notes: %v", err))
			}
		}
	}
	if !p.live {
		p.mapContents(core)
	}
	return nil
}

func (p *Image) readLoad(f *os.File, prog *elf.Prog) {
	min := Address(prog.Vaddr)
	max := min.Add(int64(prog.Memsz))
	var perm Perm
	if prog.Flags&elf.PF_R != 0 {
		perm |= Read
	}
	if prog.Flags&elf.PF_W != 0 {
		perm |= Write
	}
	if prog.Flags&elf.PF_X != 0 {
		perm |= Exec
	}
	if perm == 0 || prog.Memsz == 0 {
		return
	}
	// /proc/kcore segments do not carry PF_R for every region that is
	// readable; treat any mapped segment as readable.
	perm |= Read
	for _, m := range p.memory.mappings {
		if min < m.max && m.min < max {
			p.warnings = append(p.warnings,
				fmt.Sprintf("Segment [%x %x] overlaps [%x %x]. Ignoring it.", min, max, m.min, m.max))
			return
		}
	}
	filesz := int64(prog.Filesz)
	if filesz > int64(prog.Memsz) {
		filesz = int64(prog.Memsz)
	}
	if filesz > 0 {
		p.memory.add(&Mapping{min: min, max: min.Add(filesz), perm: perm, src: f, name: f.Name(), off: int64(prog.Off)})
	}
	if filesz < int64(prog.Memsz) {
		// Pages excluded by the dump filter. Pretend they are zero.
		p.warnings = append(p.warnings,
			fmt.Sprintf("Missing data at addresses [%x %x]. Assuming all zero.", min.Add(filesz), max))
		p.memory.add(&Mapping{min: min.Add(filesz), max: max, perm: perm})
	}
}

// mapContents memory maps the file-backed mappings of a dump.
// Mappings that can't be mapped keep reading through the file.
func (p *Image) mapContents(f *os.File) {
	hostPageSize := int64(syscall.Getpagesize())
	for _, m := range p.memory.mappings {
		if m.src == nil {
			continue
		}
		size := m.Size()
		minOff := m.off - m.off%hostPageSize
		maxOff := m.off + size
		if maxOff%hostPageSize != 0 {
			maxOff += hostPageSize - maxOff%hostPageSize
		}
		data, unmap, err := mapFile(f, minOff, int(maxOff-minOff))
		if err != nil {
			continue
		}
		p.closers = append(p.closers, unmap)
		m.contents = data[m.off-minOff:][:size]
		m.src = nil
	}
}

// readNote scans a PT_NOTE segment for VMCOREINFO, which tells us how
// far KASLR moved the kernel from its link address.
func (p *Image) readNote(f *os.File, e *elf.File, off, size uint64) error {
	b := make([]byte, size)
	if _, err := f.ReadAt(b, int64(off)); err != nil {
		return err
	}
	for len(b) >= 12 {
		namesz := e.ByteOrder.Uint32(b)
		descsz := e.ByteOrder.Uint32(b[4:])
		b = b[12:]
		nameLen := int((namesz + 3) / 4 * 4)
		descLen := int((descsz + 3) / 4 * 4)
		if nameLen > len(b) || int(namesz) > len(b) {
			return errors.New("truncated note name")
		}
		name := strings.TrimRight(string(b[:namesz]), "\x00")
		b = b[nameLen:]
		if descLen > len(b) || int(descsz) > len(b) {
			return errors.New("truncated note descriptor")
		}
		desc := b[:descsz]
		b = b[descLen:]
		if name == "VMCOREINFO" {
			p.readVmcoreInfo(desc)
		}
	}
	return nil
}

func (p *Image) readVmcoreInfo(desc []byte) {
	for _, line := range bytes.Split(desc, []byte("\n")) {
		k, v, ok := strings.Cut(string(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "KERNELOFFSET":
			x, err := strconv.ParseUint(strings.TrimSpace(v), 16, 64)
			if err == nil {
				p.kaslr = int64(x)
			}
		case "OSRELEASE":
			p.release = strings.TrimSpace(v)
		}
	}
}

// Release returns the kernel release recorded in the dump, if any.
func (p *Image) Release() string {
	return p.release
}

func (p *Image) readVmlinux(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open vmlinux")
	}
	p.closers = append(p.closers, f.Close)
	e, err := elf.NewFile(f)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	syms, err := e.Symbols()
	if err != nil {
		p.warnings = append(p.warnings, fmt.Sprintf("can't read symbols from %s: %v", path, err))
	}
	batch := make([]symbol, 0, len(syms))
	for _, s := range syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		default:
			continue
		}
		batch = append(batch, symbol{name: s.Name, addr: Address(s.Value).Add(p.kaslr)})
	}
	p.addSymbols(batch)

	d, err := e.DWARF()
	if err != nil {
		p.warnings = append(p.warnings, fmt.Sprintf("can't read DWARF info from %s: %v", path, err))
		return nil
	}
	p.dwarf = newDWARFTypes(d, p.ptrSize)
	return nil
}
