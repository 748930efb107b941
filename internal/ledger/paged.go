package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/0ZTR/BitcoinArmory/internal/corerr"
	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/ssh"
	"github.com/0ZTR/BitcoinArmory/internal/store"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

var log, _ = logs.Get(logs.LDGR)

// PagedHistory serves getHistoryPage for one scrAddr's SSH: pages are
// built eagerly from the SSH summary, but each page's TxIOPairs are
// only loaded on demand.
type PagedHistory struct {
	scrAddr    txio.ScriptHash
	txnPerPage int
	pages      []*Page
	byID       map[string]*Page
}

// NewPagedHistory builds the page index from ssh's summary.
func NewPagedHistory(s *ssh.StoredScriptHistory, txnPerPage int) *PagedHistory {
	ph := &PagedHistory{scrAddr: s.ScrAddr, txnPerPage: txnPerPage, byID: make(map[string]*Page)}
	ph.pages = BuildPages(s.Summary(), txnPerPage, func() string { return uuid.NewString() })
	for _, p := range ph.pages {
		ph.byID[p.ID] = p
	}
	log.Debugf("built %d history pages for %s (txnPerPage=%d)", len(ph.pages), s.ScrAddr, txnPerPage)
	return ph
}

// Pages returns every page in sweep order (most recent first).
func (ph *PagedHistory) Pages() []*Page {
	return ph.pages
}

// GetPageLedgerMap lazily loads pageID's block range from the SSH and
// renders its ledger entries via UpdateLedgers.
func (ph *PagedHistory) GetPageLedgerMap(tx store.ReadTx, s *ssh.StoredScriptHistory, headers HeaderLookup, pageID string) (map[string]*Entry, error) {
	page, ok := ph.byID[pageID]
	if !ok {
		return nil, corerr.New(corerr.KindUnknownID, "unknown history page %q", pageID)
	}

	combined := make(map[string]*txio.TxIOPair)
	for hgtx := range s.SubHistories() {
		if hgtx.Height() < page.BlockEnd || hgtx.Height() > page.BlockStart {
			continue
		}
		sh, err := s.LoadSubHistory(tx, hgtx)
		if err != nil {
			return nil, fmt.Errorf("loading subhistory h%d for page %s: %w", hgtx, pageID, err)
		}
		for k, v := range sh.TxioMap {
			combined[k] = v
		}
	}

	return UpdateLedgers(string(ph.scrAddr.Bytes()), combined, headers), nil
}
