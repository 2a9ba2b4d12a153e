package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dsnet/golib/memfile"
	"github.com/ncw/directio"
)

// InMemory is the path that opens a page file backed by process memory
// instead of the filesystem. Useful for tests and throwaway databases.
const InMemory = ":memory:"

// PageFile stores a sequence of fixed-size pages in a single file.
// Page ids are dense, zero-based and never reused. Appends are serialized so
// the page counter and the file length stay coherent; reads and writes of
// distinct pages may run in parallel on the underlying file.
type PageFile struct {
	appendMu sync.Mutex // guards count and file growth
	count    uint32

	file *os.File
	mem  *memfile.File

	// Scratch block for O_DIRECT transfers; direct I/O requires aligned
	// user memory, which Go heap buffers do not guarantee.
	directMu sync.Mutex
	direct   []byte
}

// OpenPageFile opens or creates the database file. With path == InMemory the
// file lives in memory only. With direct == true the file is opened with
// O_DIRECT and all transfers go through an aligned scratch block.
func OpenPageFile(path string, direct bool) (*PageFile, error) {
	if path == InMemory {
		return &PageFile{mem: memfile.New(nil)}, nil
	}

	var (
		f   *os.File
		err error
	)
	if direct {
		f, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat page file: %w", err)
	}

	pf := &PageFile{
		file:  f,
		count: uint32(info.Size() / PageSize),
	}
	if direct {
		pf.direct = directio.AlignedBlock(PageSize)
	}
	return pf, nil
}

// Count returns the number of allocated pages.
func (pf *PageFile) Count() uint32 {
	pf.appendMu.Lock()
	defer pf.appendMu.Unlock()
	return pf.count
}

// Allocate appends one zeroed page to the file and returns its id.
func (pf *PageFile) Allocate() (PageID, error) {
	pf.appendMu.Lock()
	defer pf.appendMu.Unlock()

	id := PageID(pf.count)
	var zero [PageSize]byte
	if err := pf.writeAt(zero[:], int64(id)*PageSize); err != nil {
		return InvalidPageID, fmt.Errorf("%w: allocate page %d: %v", ErrDiskIO, id, err)
	}
	pf.count++
	return id, nil
}

// ReadPage copies page id into buf, which must be exactly PageSize bytes.
func (pf *PageFile) ReadPage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("%w: read buffer must be %d bytes", ErrDiskIO, PageSize)
	}
	if uint32(id) >= pf.Count() {
		return fmt.Errorf("%w: %w: read page %d", ErrDiskIO, ErrPageOutOfRange, id)
	}
	if err := pf.readAt(buf, int64(id)*PageSize); err != nil {
		return fmt.Errorf("%w: read page %d: %v", ErrDiskIO, id, err)
	}
	return nil
}

// WritePage writes buf, which must be exactly PageSize bytes, to page id.
func (pf *PageFile) WritePage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("%w: write buffer must be %d bytes", ErrDiskIO, PageSize)
	}
	if uint32(id) >= pf.Count() {
		return fmt.Errorf("%w: %w: write page %d", ErrDiskIO, ErrPageOutOfRange, id)
	}
	if err := pf.writeAt(buf, int64(id)*PageSize); err != nil {
		return fmt.Errorf("%w: write page %d: %v", ErrDiskIO, id, err)
	}
	return nil
}

// Close syncs and closes the underlying file.
func (pf *PageFile) Close() error {
	if pf.file == nil {
		return nil
	}
	if err := pf.file.Sync(); err != nil {
		_ = pf.file.Close()
		return fmt.Errorf("%w: sync: %v", ErrDiskIO, err)
	}
	return pf.file.Close()
}

func (pf *PageFile) readAt(buf []byte, off int64) error {
	if pf.mem != nil {
		_, err := pf.mem.ReadAt(buf, off)
		if err == io.EOF {
			err = nil
		}
		return err
	}
	if pf.direct != nil {
		pf.directMu.Lock()
		defer pf.directMu.Unlock()
		if _, err := pf.file.ReadAt(pf.direct, off); err != nil && err != io.EOF {
			return err
		}
		copy(buf, pf.direct)
		return nil
	}
	_, err := pf.file.ReadAt(buf, off)
	if err == io.EOF {
		err = nil
	}
	return err
}

func (pf *PageFile) writeAt(buf []byte, off int64) error {
	if pf.mem != nil {
		_, err := pf.mem.WriteAt(buf, off)
		return err
	}
	if pf.direct != nil {
		pf.directMu.Lock()
		defer pf.directMu.Unlock()
		copy(pf.direct, buf)
		_, err := pf.file.WriteAt(pf.direct, off)
		return err
	}
	_, err := pf.file.WriteAt(buf, off)
	return err
}
