//go:build unix

package slab

import "golang.org/x/sys/unix"

// unixPages maps slab pages via anonymous mmap and reclaims physical
// pages with madvise(MADV_DONTNEED). mmap keeps the virtual mapping;
// madvise discards only the backing physical pages, preserving the
// mapping the slab cache depends on when a recycled slab is reinitialized
// in place.
type unixPages struct {
	pageSize int
}

// NewPageProvider returns the platform page provider for pageSize.
func NewPageProvider(pageSize int) PageProvider {
	return &unixPages{pageSize: pageSize}
}

func (p *unixPages) NewPage() ([]byte, error) {
	return unix.Mmap(-1, 0, p.pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (p *unixPages) Reclaim(page []byte) error {
	return unix.Madvise(page, unix.MADV_DONTNEED)
}

func (p *unixPages) Unmap(page []byte) error {
	return unix.Munmap(page)
}
