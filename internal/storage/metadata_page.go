package storage

import "github.com/tuannm99/waxdb/pkg/bx"

// MetadataPage is the view over page 0, which stores database-wide metadata.
// For now that is only the transaction timestamp counter, persisted at
// shutdown and reloaded at startup.
type MetadataPage struct {
	page *Page
}

func AsMetadataPage(p *Page) MetadataPage { return MetadataPage{page: p} }

func (mp MetadataPage) Page() *Page { return mp.page }

// NextTransactionTimestamp returns the raw counter value stored after the
// next-page-id header.
func (mp MetadataPage) NextTransactionTimestamp() uint64 {
	return bx.U64At(mp.page.Data(), 4)
}

func (mp MetadataPage) SetNextTransactionTimestamp(ts uint64) {
	bx.PutU64At(mp.page.Data(), 4, ts)
}
