package vfs

import "github.com/mentos32/kernel/internal/vm"

// pageSize is the same value as vm.PGSIZE, kept as a local constant. vfs
// sits above vm in the import graph (exec's loader wires a vfs.File into a
// vm.VMA), so importing vm here is fine, unlike vm importing vfs back.
const pageSize = 4096

// PageSource adapts an OpenFile to vm.Source, so a file-backed VMA can
// pull page contents from the VFS during a page fault.
type PageSource struct {
	File *OpenFile
}

// ReadPage reads one page's worth of bytes at the given file offset,
// zero-padding the tail when the file is shorter than a full page
// (reads past EOF within the final page read as zero).
func (p PageSource) ReadPage(off int64) ([]byte, error) {
	buf := make([]byte, pageSize)
	n, err := p.File.Read(buf, off)
	if !err.Ok() && n == 0 {
		return nil, err
	}
	return buf, nil
}

var _ vm.Source = PageSource{}
