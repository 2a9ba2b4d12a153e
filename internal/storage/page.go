package storage

import "github.com/tuannm99/waxdb/pkg/bx"

// Page is one fixed-size page held in memory. The first four bytes of the
// payload store the id of the next page, linking all pages of a table into a
// singly linked chain:
//
//	+--------------------+ 0
//	| next page id (4 B) |
//	+--------------------+ 4
//	| page kind payload  |
//	+--------------------+ PageSize
type Page struct {
	id   PageID
	data [PageSize]byte
}

// NewPage returns a fresh zeroed page with no successor.
func NewPage(id PageID) *Page {
	p := &Page{id: id}
	p.SetNextPageID(InvalidPageID)
	return p
}

func (p *Page) ID() PageID      { return p.id }
func (p *Page) SetID(id PageID) { p.id = id }

// Data exposes the raw page bytes. Callers must hold a pin on the page.
func (p *Page) Data() []byte { return p.data[:] }

func (p *Page) NextPageID() PageID {
	return PageID(bx.U32(p.data[:4]))
}

func (p *Page) SetNextPageID(id PageID) {
	bx.PutU32(p.data[:4], uint32(id))
}

func (p *Page) HasNextPage() bool {
	return p.NextPageID() != InvalidPageID
}

// Reset wipes the page content and re-tags it with the given id. Used when a
// buffer frame is recycled for a different page.
func (p *Page) Reset(id PageID) {
	clear(p.data[:])
	p.id = id
	p.SetNextPageID(InvalidPageID)
}
