// Package region implements the 4096-byte memory-mapped timedata
// region shared between a byztime provider and its consumers: the
// binary layout, the little-endian magic/era codecs, the lock-free
// writer-index ring, and the process-shared spinlock guarding writer
// updates.
//
// Atomic access to the mapped bytes follows the pattern in
// mmapforge's Store.SeqBeginWrite: reinterpret a byte offset into the
// mapping as a typed pointer via unsafe.Pointer and drive it through
// sync/atomic, rather than going through encoding/binary on every
// access.
package region

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"byztime/stamp"
)

const (
	// MagicLen is the width of the region magic.
	MagicLen = 12
	// EraLen is the width of the clock-era token.
	EraLen = 16
	// HeaderSize is the padded size of the region header.
	HeaderSize = 128
	// EntrySize is the size of one timedata entry.
	EntrySize = 64
	// NumEntries is the number of entries in the ring.
	NumEntries = 62
	// Size is the total region size: one 4096-byte page.
	Size = HeaderSize + EntrySize*NumEntries

	magicOffset  = 0
	indexOffset  = 12
	eraOffset    = 16
	offsetOffset = 32 // real_offset field
	mutexOffset  = 48
	entriesBase  = HeaderSize
)

// compile-time layout check
var _ [Size - 4096]struct{} // Size must equal 4096
var _ [4096 - Size]struct{}

// Magic is the expected 12-byte region magic.
var Magic = [MagicLen]byte{'B', 'Y', 'Z', 'T', 'I', 'M', 'E', 0x00, 0xFF, 0xFF, 0xFF, 0xFF}

// Region is a memory-mapped timedata region.
type Region struct {
	data     []byte
	writable bool
}

// Map mmaps f (which must already be at least Size bytes long) as a
// shared region. writable selects PROT_READ|PROT_WRITE vs PROT_READ.
func Map(f *os.File, writable bool) (*Region, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, Size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("region: mmap: %w", err)
	}

	return &Region{data: data, writable: writable}, nil
}

// Close unmaps the region, first flushing dirty pages if it was
// mapped writable.
func (r *Region) Close() error {
	if r.writable {
		if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
			_ = unix.Munmap(r.data)
			return fmt.Errorf("region: msync: %w", err)
		}
	}
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("region: munmap: %w", err)
	}
	return nil
}

func (r *Region) ptrU32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) ptrI32(off int) *int32 {
	return (*int32)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) ptrI64(off int) *int64 {
	return (*int64)(unsafe.Pointer(&r.data[off]))
}

// LoadMagic reads the region magic under an acquire fence.
func (r *Region) LoadMagic() [MagicLen]byte {
	var out [MagicLen]byte
	for i := 0; i*4 < MagicLen; i++ {
		word := atomic.LoadUint32(r.ptrU32(magicOffset + i*4))
		binary.LittleEndian.PutUint32(out[i*4:], word)
	}
	return out
}

// StoreMagic writes the region magic under a release fence. Per the
// initialization protocol, this must be the last header field written
// during first-time initialization.
func (r *Region) StoreMagic(magic [MagicLen]byte) {
	for i := 0; i*4 < MagicLen; i++ {
		word := binary.LittleEndian.Uint32(magic[i*4:])
		atomic.StoreUint32(r.ptrU32(magicOffset+i*4), word)
	}
}

// LoadEra reads the region era under an acquire fence.
func (r *Region) LoadEra() [EraLen]byte {
	var out [EraLen]byte
	for i := 0; i*4 < EraLen; i++ {
		word := atomic.LoadUint32(r.ptrU32(eraOffset + i*4))
		binary.LittleEndian.PutUint32(out[i*4:], word)
	}
	return out
}

// StoreEra writes the region era under a release fence. Per the
// re-initialization protocol, this must be the last header field
// written when recovering from a reboot.
func (r *Region) StoreEra(era [EraLen]byte) {
	for i := 0; i*4 < EraLen; i++ {
		word := binary.LittleEndian.Uint32(era[i*4:])
		atomic.StoreUint32(r.ptrU32(eraOffset+i*4), word)
	}
}

// LoadIndexAcquire reads the writer index with acquire-equivalent
// ordering: it must be called before the entry at the returned index
// is inspected.
func (r *Region) LoadIndexAcquire() int32 {
	return atomic.LoadInt32(r.ptrI32(indexOffset))
}

// StoreIndexRelease writes the writer index with release-equivalent
// ordering: the full entry at index i must already be written.
func (r *Region) StoreIndexRelease(i int32) {
	atomic.StoreInt32(r.ptrI32(indexOffset), i)
}

// InitIndex sets the writer index without any particular ordering
// requirement, for use only while (re)initializing the region, before
// it is published via StoreMagic or StoreEra.
func (r *Region) InitIndex(i int32) {
	atomic.StoreInt32(r.ptrI32(indexOffset), i)
}

// LoadRealOffset reads the header's real_offset Stamp.
func (r *Region) LoadRealOffset() stamp.Stamp {
	sec := atomic.LoadInt64(r.ptrI64(offsetOffset))
	nsec := atomic.LoadInt64(r.ptrI64(offsetOffset + 8))
	return stamp.Stamp{Sec: sec, Nsec: nsec}
}

// StoreRealOffset writes the header's real_offset Stamp. Outside of
// (re)initialization, callers must hold the region mutex.
func (r *Region) StoreRealOffset(s stamp.Stamp) {
	atomic.StoreInt64(r.ptrI64(offsetOffset), s.Sec)
	atomic.StoreInt64(r.ptrI64(offsetOffset+8), s.Nsec)
}

func entryOffset(i int32) int {
	return entriesBase + int(i)*EntrySize
}

// ReadEntry copies the entry at index i out of the mapping into three
// private Stamps. It does not validate the result; ValidateEntry does
// that separately so callers can distinguish "entry copied" from
// "entry well-formed" the way the copy-before-validate read protocol
// requires.
func (r *Region) ReadEntry(i int32) (offset, errStamp, asOf stamp.Stamp) {
	off := entryOffset(i)
	offset = stamp.Stamp{
		Sec:  atomic.LoadInt64(r.ptrI64(off)),
		Nsec: atomic.LoadInt64(r.ptrI64(off + 8)),
	}
	errStamp = stamp.Stamp{
		Sec:  atomic.LoadInt64(r.ptrI64(off + 16)),
		Nsec: atomic.LoadInt64(r.ptrI64(off + 24)),
	}
	asOf = stamp.Stamp{
		Sec:  atomic.LoadInt64(r.ptrI64(off + 32)),
		Nsec: atomic.LoadInt64(r.ptrI64(off + 40)),
	}
	return
}

// WriteEntry writes a complete entry at index i. Outside of
// (re)initialization it must be called only while the region mutex is
// held, and it must complete before the writer index is advanced to i
// via StoreIndexRelease.
func (r *Region) WriteEntry(i int32, offset, errStamp, asOf stamp.Stamp) {
	off := entryOffset(i)
	atomic.StoreInt64(r.ptrI64(off), offset.Sec)
	atomic.StoreInt64(r.ptrI64(off+8), offset.Nsec)
	atomic.StoreInt64(r.ptrI64(off+16), errStamp.Sec)
	atomic.StoreInt64(r.ptrI64(off+24), errStamp.Nsec)
	atomic.StoreInt64(r.ptrI64(off+32), asOf.Sec)
	atomic.StoreInt64(r.ptrI64(off+40), asOf.Nsec)
}

// ValidateEntry reports whether a copied entry is well-formed: every
// Stamp's nanosecond field must be in [0, 1e9).
func ValidateEntry(offset, errStamp, asOf stamp.Stamp) bool {
	return validNsec(offset.Nsec) && validNsec(errStamp.Nsec) && validNsec(asOf.Nsec)
}

func validNsec(n int64) bool {
	return n >= 0 && n < stamp.Billion
}

// EnsureSize grows f to at least Size bytes if it is shorter,
// analogous to the original's posix_fallocate call. os.File.Truncate
// on a file shorter than the target size extends it with a sparse
// hole of zero bytes, which is sufficient here since the header
// fields we care about (magic, index) are explicitly checked for
// validity rather than assumed non-zero.
func EnsureSize(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("region: stat: %w", err)
	}
	if info.Size() >= Size {
		return nil
	}
	if err := f.Truncate(Size); err != nil {
		return fmt.Errorf("region: truncate: %w", err)
	}
	return nil
}

// mutexWord returns a pointer to the process-shared spinlock word
// embedded in the header, for use by the lockfile-independent
// writer-side mutex in this package's sibling file mutex.go.
func (r *Region) mutexWord() *uint32 {
	return r.ptrU32(mutexOffset)
}
