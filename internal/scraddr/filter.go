// Package scraddr implements the script-address filter and side-scan
// coordinator: it decides whether a scrAddr is tracked
// and coordinates background rescans when addresses are registered
// against an already-synchronized chain.
//
// Side-scan children live in an arena owned by the root filter: each
// is an index into a per-root registry, and merge is a message from
// child-index to root-index on a single-producer channel rather than
// a raw back-pointer plus spin flag.
package scraddr

import (
	"sync"

	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/panics"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

var log, _ = logs.Get(logs.SCAF)
var spawn = panics.GoroutineWrapperFunc(log)

// Mode selects the filter's tracking policy.
type Mode int

// Recognized modes.
const (
	// Supernode tracks every scrAddr unconditionally; filter(...) is
	// always true and registerAddresses never spawns a side scan.
	Supernode Mode = iota
	// Selective tracks only the configured set of addresses.
	Selective
)

// ReorgWindow is the number of blocks checkForMerge rescans after any
// merge to absorb reorgs that happened while the side scan ran.
const ReorgWindow = 100

// RegisterOutcome is the result of registerAddresses.
type RegisterOutcome int

// Outcomes.
const (
	// Immediate means the addresses were inserted directly; the caller
	// may proceed without waiting for a refresh notification besides
	// the synthesized one.
	Immediate RegisterOutcome = iota
	// Deferred means a side-scan child was appended to the chain; the
	// caller must wait for an asynchronous needsRefresh notification.
	Deferred
)

// RefreshSink receives the needsRefresh notifications this filter
// raises on behalf of callers of registerAddresses (fanned out to the
// BDV layer, which turns them into BDV_Refresh actions).
type RefreshSink interface {
	NotifyRefresh(walletID string, success bool)
}

// HistoryWriter is the store-backed collaborator a completed side scan
// commits its discovered TxIOPairs to before reporting success.
// Concretely ssh.Writer, wrapping the KV store's HISTORY/SUBSSH tables
//. Without this collaborator a side scan's merge only
// flips a success flag and never lands the merged outputs in the
// durable per-scrAddr index, so a scrAddr registered after the chain
// tip would forever read back a balance of 0.
type HistoryWriter interface {
	// CommitTxio durably records one discovered TxIOPair for scrAddr at
	// block height hgtx.
	CommitTxio(scrAddr txio.ScriptHash, hgtx txio.HgTx, t *txio.TxIOPair) error
	// SetLastScanned advances scrAddr's scanned watermark, the
	// scanned watermark committed on side-scan completion. Side
	// scans never write this
	// over an address they do not own.
	SetLastScanned(scrAddr txio.ScriptHash, upToHeight uint32) error
}

// addrState tracks one registered scrAddr's own scan watermark.
type addrState struct {
	scrAddr           txio.ScriptHash
	walletID          string
	lastScannedHeight uint32
	registeredAt      uint32
}

// mergeMsg is what a side-scan child sends to the root's merge channel
// on completion, over the root's single-producer merge channel.
type mergeMsg struct {
	childIndex int
}

// Filter is the root ScrAddrFilter. One Filter exists per BDM process;
// side-scan children are arena entries owned by this Filter, never
// separate objects holding a raw pointer back to it.
type Filter struct {
	mode Mode

	mu        sync.RWMutex
	addrs     map[string]*addrState // keyed by scrAddr bytes
	mainTip   uint32                // main indexer's current synchronized height
	atTip     bool                  // whether the main indexer has reached the chain tip

	arenaMu sync.Mutex
	arena   []*sideScan // side-scan children, appended only, never reordered
	isScanningFlag bool // at most one side-scan thread runs per root

	mergeCh chan mergeMsg

	blockHeightCutOff uint32 // set by scanFrom: highest lastScannedHeight among registered addrs

	// utxoKeys is the root's merged confirmed UTXO set, scrAddr bytes ->
	// discovered output keys, populated only by integrateMerge and only
	// with keys above blockHeightCutOff. Guarded by mu alongside the
	// other merge-derived state.
	utxoKeys map[string][]txio.DBKey

	sink    RefreshSink
	history HistoryWriter

	rescanner Rescanner
}

// Rescanner performs the actual side-scan block-file walk. It is an
// external collaborator; the filter only calls it and merges results back.
type Rescanner interface {
	// RescanRange scans blocks [fromHeight, toHeight] for outputs paying
	// any scrAddr for which filterFn returns true, returning the
	// discovered TxIOPairs keyed by scrAddr.
	RescanRange(fromHeight, toHeight uint32, filterFn func(txio.ScriptHash) bool) (map[string][]*txio.TxIOPair, error)
}

// sideScan is one arena entry: a side-scan child's own address set and
// the UTXOs it collected, pending merge into the root.
type sideScan struct {
	scrAddrMap map[string]*addrState
	utxoKeys   map[string][]txio.DBKey        // scrAddr -> discovered output keys, post-cutoff
	pairs      map[string][]*txio.TxIOPair    // scrAddr -> discovered TxIOPairs, post-cutoff, committed on merge
	fromHeight uint32
	toHeight   uint32
	walletID   string
	isNew      bool
}

// New constructs a root Filter in the given mode. history may be nil,
// in which case merged side-scan discoveries are tracked in memory
// (via MergedUTXOKeys) but never committed to durable storage.
func New(mode Mode, rescanner Rescanner, sink RefreshSink, history HistoryWriter) *Filter {
	return &Filter{
		mode:      mode,
		addrs:     make(map[string]*addrState),
		utxoKeys:  make(map[string][]txio.DBKey),
		mergeCh:   make(chan mergeMsg, 16),
		rescanner: rescanner,
		sink:      sink,
		history:   history,
	}
}

// SetMainTip updates the main indexer's current height and readiness.
// Called by the blockchain-manager thread as it advances.
func (f *Filter) SetMainTip(height uint32, atTip bool) {
	f.mu.Lock()
	f.mainTip = height
	f.atTip = atTip
	f.mu.Unlock()
}

// Tracks reports whether scrAddr passes the filter. In Supernode mode
// this is always true.
func (f *Filter) Tracks(scrAddr txio.ScriptHash) bool {
	if f.mode == Supernode {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.addrs[string(scrAddr.Bytes())]
	return ok
}

// FilterFunc returns a predicate suitable for passing to collaborators
// that need a plain func(ScriptHash) bool, e.g. Rescanner.RescanRange.
func (f *Filter) FilterFunc() func(txio.ScriptHash) bool {
	return f.Tracks
}

// RegisterAddresses adds addrs to the tracked set. In
// Supernode mode it always returns Immediate with a synthesized
// refresh. In Selective mode: if the main indexer has not reached the
// chain tip, addresses are inserted directly (Immediate); otherwise a
// side-scan child is appended and Deferred is returned.
func (f *Filter) RegisterAddresses(addrs []txio.ScriptHash, walletID string, isNew bool) RegisterOutcome {
	if f.mode == Supernode {
		f.sink.NotifyRefresh(walletID, true)
		return Immediate
	}

	f.mu.Lock()
	atTip := f.atTip
	mainTip := f.mainTip
	if !atTip {
		for _, a := range addrs {
			f.addrs[string(a.Bytes())] = &addrState{scrAddr: a, walletID: walletID, lastScannedHeight: mainTip, registeredAt: mainTip}
		}
	}
	f.mu.Unlock()

	if !atTip {
		f.sink.NotifyRefresh(walletID, true)
		return Immediate
	}

	f.appendSideScan(addrs, walletID, isNew)
	return Deferred
}

func (f *Filter) appendSideScan(addrs []txio.ScriptHash, walletID string, isNew bool) {
	states := make(map[string]*addrState, len(addrs))
	startHeight := uint32(0)
	if isNew {
		f.mu.RLock()
		startHeight = f.mainTip
		f.mu.RUnlock()
	}
	for _, a := range addrs {
		states[string(a.Bytes())] = &addrState{scrAddr: a, walletID: walletID, lastScannedHeight: startHeight}
	}

	f.arenaMu.Lock()
	idx := len(f.arena)
	f.arena = append(f.arena, &sideScan{scrAddrMap: states, walletID: walletID, isNew: isNew, fromHeight: startHeight})
	f.arenaMu.Unlock()

	f.maybeStartSideScan()
	_ = idx
}

// maybeStartSideScan launches the background side-scan thread if none
// is currently running and at least one pending arena entry has not
// been scanned yet. At most one side-scan thread runs per root.
func (f *Filter) maybeStartSideScan() {
	f.arenaMu.Lock()
	if f.isScanningFlag {
		f.arenaMu.Unlock()
		return
	}
	var pending *sideScan
	var pendingIdx int = -1
	for i, ss := range f.arena {
		if ss.toHeight == 0 {
			pending = ss
			pendingIdx = i
			break
		}
	}
	if pending == nil {
		f.arenaMu.Unlock()
		return
	}
	f.isScanningFlag = true
	f.arenaMu.Unlock()

	spawn(func() {
		f.runSideScan(pendingIdx, pending)
	})
}

func (f *Filter) runSideScan(idx int, ss *sideScan) {
	defer func() {
		f.arenaMu.Lock()
		f.isScanningFlag = false
		f.arenaMu.Unlock()
		f.maybeStartSideScan() // pick up any arena entry queued while we ran
	}()

	f.mu.Lock()
	f.scanFromLocked() // refresh blockHeightCutOff against the currently-merged root addrs
	cutoff := f.blockHeightCutOff
	to := f.mainTip
	f.mu.Unlock()
	from := f.scanFromForChild(ss)

	results, err := f.rescanner.RescanRange(from, to, func(s txio.ScriptHash) bool {
		_, ok := ss.scrAddrMap[string(s.Bytes())]
		return ok
	})
	if err != nil {
		log.Errorf("side scan [%d..%d] failed: %s", from, to, err)
		// Retire the failed child so the deferred maybeStartSideScan does
		// not pick it up again; it is never sent for merge.
		ss.toHeight = to
		f.sink.NotifyRefresh(ss.walletID, false)
		return
	}

	// Discard UTXOs at or below the cutoff: those heights are already
	// covered by the main index.
	ss.utxoKeys = make(map[string][]txio.DBKey, len(results))
	ss.pairs = make(map[string][]*txio.TxIOPair, len(results))
	for scrAddrStr, pairs := range results {
		var kept []*txio.TxIOPair
		for _, p := range pairs {
			if hgtx, err := p.TxOutKey.HgTx(); err == nil && hgtx.Height() <= cutoff {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			continue
		}
		keys := make([]txio.DBKey, 0, len(kept))
		for _, p := range kept {
			keys = append(keys, p.TxOutKey)
		}
		ss.pairs[scrAddrStr] = kept
		ss.utxoKeys[scrAddrStr] = keys
	}
	ss.toHeight = to

	// setSSHLastScanned: side scans never write watermarks for
	// addresses they do not own, and only over their own address set.
	for _, st := range ss.scrAddrMap {
		st.lastScannedHeight = to
	}

	f.mergeCh <- mergeMsg{childIndex: idx}
}

// scanFrom returns the lowest lastScannedHeight among the root's merged
// addresses (pending side-scan children are not included), or the main
// tip when none is lower; this is the start of the next side scan. It simultaneously records the highest such
// height as blockHeightCutOff: the boundary below which a side scan
// must discard UTXOs it collected, because those are already indexed.
func (f *Filter) ScanFrom() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanFromLocked()
}

func (f *Filter) scanFromLocked() uint32 {
	low := f.mainTip
	high := uint32(0)
	for _, st := range f.addrs {
		if st.lastScannedHeight < low {
			low = st.lastScannedHeight
		}
		if st.lastScannedHeight > high {
			high = st.lastScannedHeight
		}
	}
	f.blockHeightCutOff = high
	return low
}

func (f *Filter) scanFromForChild(ss *sideScan) uint32 {
	low := f.mainTip
	for _, st := range ss.scrAddrMap {
		if st.lastScannedHeight < low {
			low = st.lastScannedHeight
		}
	}
	return low
}

// CheckForMerge drains the merge channel and integrates any completed
// side-scan children into the root, rescanning the last ReorgWindow
// blocks over the newly-merged addresses before accepting them live
//. Intended to be called by the main indexer thread at a
// safe point between blocks.
func (f *Filter) CheckForMerge() {
	for {
		select {
		case msg := <-f.mergeCh:
			f.integrateMerge(msg.childIndex)
		default:
			return
		}
	}
}

func (f *Filter) integrateMerge(idx int) {
	f.arenaMu.Lock()
	if idx < 0 || idx >= len(f.arena) {
		f.arenaMu.Unlock()
		return
	}
	ss := f.arena[idx]
	f.arenaMu.Unlock()

	f.mu.RLock()
	cutoff := f.blockHeightCutOff
	f.mu.RUnlock()

	rescanFrom := uint32(0)
	if ss.toHeight > ReorgWindow {
		rescanFrom = ss.toHeight - ReorgWindow
	}
	if rescanFrom < cutoff {
		rescanFrom = cutoff
	}

	results, err := f.rescanner.RescanRange(rescanFrom, ss.toHeight, func(s txio.ScriptHash) bool {
		_, ok := ss.scrAddrMap[string(s.Bytes())]
		return ok
	})
	if err != nil {
		log.Errorf("reorg-safety rescan for merged addresses failed: %s", err)
		f.sink.NotifyRefresh(ss.walletID, false)
		return
	}

	// Union the side scan's own pre-reorg-window discoveries with the
	// reorg-safety rescan's results, keyed by TxOutKey so the latter
	// (authoritative for [rescanFrom, ss.toHeight]) overwrites any stale
	// entry the initial side scan collected in that overlapping window.
	final := make(map[string]map[string]*txio.TxIOPair)
	addAll := func(src map[string][]*txio.TxIOPair) {
		for scrAddrStr, pairs := range src {
			m, ok := final[scrAddrStr]
			if !ok {
				m = make(map[string]*txio.TxIOPair)
				final[scrAddrStr] = m
			}
			for _, p := range pairs {
				m[p.TxOutKey.String()] = p
			}
		}
	}
	addAll(ss.pairs)
	addAll(results)

	if err := f.commitMergedPairs(final); err != nil {
		log.Errorf("committing merged side-scan discoveries for %s: %s", ss.walletID, err)
		f.sink.NotifyRefresh(ss.walletID, false)
		return
	}

	f.mu.Lock()
	for key, st := range ss.scrAddrMap {
		f.addrs[key] = st
	}
	for scrAddrStr, m := range final {
		keys := make([]txio.DBKey, 0, len(m))
		for _, p := range m {
			keys = append(keys, p.TxOutKey)
		}
		f.utxoKeys[scrAddrStr] = keys
	}
	f.mu.Unlock()

	if f.history != nil {
		for _, st := range ss.scrAddrMap {
			if err := f.history.SetLastScanned(st.scrAddr, ss.toHeight); err != nil {
				log.Errorf("recording scanned watermark for %s: %s", st.scrAddr, err)
			}
		}
	}

	f.sink.NotifyRefresh(ss.walletID, true)
}

// commitMergedPairs durably records every TxIOPair in final via the
// HistoryWriter collaborator. A nil history (no store wired in) is a
// no-op, matching New's documented behavior for in-memory-only use.
func (f *Filter) commitMergedPairs(final map[string]map[string]*txio.TxIOPair) error {
	if f.history == nil {
		return nil
	}
	for _, m := range final {
		for _, p := range m {
			hgtx, err := p.TxOutKey.HgTx()
			if err != nil {
				// ZC outputs are never persisted by a side scan.
				continue
			}
			if err := f.history.CommitTxio(p.ScrAddr, hgtx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// MergedUTXOKeys returns a snapshot of the root's currently known
// confirmed UTXO set, keyed by scrAddr bytes, populated only by merges
// that have completed. Used to test the side-scan-safety invariant of
// the root's UTXO set must contain no keys with height <=
// blockHeightCutOff.
func (f *Filter) MergedUTXOKeys() map[string][]txio.DBKey {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]txio.DBKey, len(f.utxoKeys))
	for scrAddrStr, keys := range f.utxoKeys {
		cp := make([]txio.DBKey, len(keys))
		copy(cp, keys)
		out[scrAddrStr] = cp
	}
	return out
}

// BlockHeightCutOff returns the boundary below which a side scan's
// collected UTXOs must be discarded as already present in the main
// index.
func (f *Filter) BlockHeightCutOff() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.blockHeightCutOff
}

// Addresses returns a snapshot of every scrAddr currently tracked by the
// root (post-merge), for test assertions and wallet rebuilds.
func (f *Filter) Addresses() []txio.ScriptHash {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]txio.ScriptHash, 0, len(f.addrs))
	for _, st := range f.addrs {
		out = append(out, st.scrAddr)
	}
	return out
}

// IsScanning reports whether a side-scan thread is currently running.
func (f *Filter) IsScanning() bool {
	f.arenaMu.Lock()
	defer f.arenaMu.Unlock()
	return f.isScanningFlag
}
