package bdv

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"

	"github.com/0ZTR/BitcoinArmory/internal/corerr"
	"github.com/0ZTR/BitcoinArmory/internal/proto"
	"github.com/0ZTR/BitcoinArmory/internal/scraddr"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
	"github.com/0ZTR/BitcoinArmory/internal/walletview"
)

// buildCommandTable constructs the static method-name -> handler
// mapping once at construction.
func (b *BDV) buildCommandTable() map[string]Handler {
	return map[string]Handler{
		"goOnline":                       b.handleGoOnline,
		"registerWallet":                 b.handleRegisterWallet,
		"registerLockbox":                b.handleRegisterLockbox,
		"getLedgerDelegateForWallets":    b.handleGetLedgerDelegateForWallets,
		"getLedgerDelegateForLockboxes":  b.handleGetLedgerDelegateForLockboxes,
		"getHistoryPage":                 b.handleGetHistoryPage,
		"getBalancesAndCount":            b.handleGetBalancesAndCount,
		"getTxByHash":                    b.handleGetTxByHash,
		"hasHeaderWithHash":              b.handleHasHeaderWithHash,
		"registerCallback":               b.handleRegisterCallback,
		"getStatus":                      b.handleGetStatus,
		"waitOnBDV":                      b.handleWaitOnBDV,
	}
}

func scrAddrsFromArgs(args proto.Arguments) ([]txio.ScriptHash, error) {
	if len(args) == 0 {
		return nil, corerr.InvalidArgument("expected a BinaryDataVector of scrAddrs")
	}
	vec, ok := args[0].(proto.BinaryDataVectorArg)
	if !ok {
		return nil, corerr.InvalidArgument("expected a BinaryDataVector of scrAddrs")
	}
	out := make([]txio.ScriptHash, len(vec))
	for i, b := range vec {
		out[i] = txio.ScriptHash(b)
	}
	return out, nil
}

func isNewFromArgs(args proto.Arguments, idx int) bool {
	if len(args) <= idx {
		return false
	}
	i, ok := args[idx].(proto.IntArg)
	return ok && i != 0
}

func ok(args ...proto.Argument) (proto.Arguments, error) {
	return append(proto.Arguments{proto.IntArg(1)}, args...), nil
}

// handleGoOnline triggers the
// initial scan across all pre-registered addresses; when finished, the
// readiness future is fulfilled and a BDM_Ready notification is
// emitted.
func (b *BDV) handleGoOnline(_ []string, _ proto.Arguments) (proto.Arguments, error) {
	spawn(func() {
		b.mu.RLock()
		wallets := make([]*walletview.BtcWallet, 0, len(b.wallets)+len(b.lockboxes))
		for _, w := range b.wallets {
			wallets = append(wallets, w)
		}
		for _, w := range b.lockboxes {
			wallets = append(wallets, w)
		}
		b.mu.RUnlock()

		for _, w := range wallets {
			for _, addr := range w.ScrAddrStrings() {
				sh, err := b.loadSSH(addr)
				if err != nil {
					log.Errorf("bdv %s: initial scan of %s failed: %s", b.ID, addr, err)
					continue
				}
				if obj, found := w.Get(addr); found {
					obj.LoadFromSSH(sh, b.collab.TxnPerPage)
				}
			}
		}
		b.markReady()
	})
	return ok()
}

// handleRegisterWallet registers a wallet under this view. ids[0]
// is the wallet ID; args[0] is the BinaryDataVector of scrAddrs; args[1]
// (optional Int) is isNew.
func (b *BDV) handleRegisterWallet(ids []string, args proto.Arguments) (proto.Arguments, error) {
	return b.registerWalletLike(ids, args, false)
}

// handleRegisterLockbox is registerWallet for lockboxes.
func (b *BDV) handleRegisterLockbox(ids []string, args proto.Arguments) (proto.Arguments, error) {
	return b.registerWalletLike(ids, args, true)
}

func (b *BDV) registerWalletLike(ids []string, args proto.Arguments, isLockbox bool) (proto.Arguments, error) {
	if len(ids) == 0 {
		return nil, corerr.InvalidArgument("registerWallet requires a wallet id")
	}
	walletID := ids[0]
	addrs, err := scrAddrsFromArgs(args)
	if err != nil {
		return nil, err
	}
	isNew := isNewFromArgs(args, 1)

	w := walletview.NewBtcWallet(walletID)
	for _, a := range addrs {
		w.AddScrAddr(walletview.NewScrAddrObj(a, b.collab.TopBlockHeight()))
	}

	b.mu.Lock()
	if isLockbox {
		b.lockboxes[walletID] = w
	} else {
		b.wallets[walletID] = w
	}
	b.mu.Unlock()

	outcome := b.collab.Filter.RegisterAddresses(addrs, b.ScopedWalletID(walletID), isNew)
	if outcome == scraddr.Immediate {
		b.notifQueue.Push(Action{Kind: ActionRefreshWallets, WalletIDs: []string{walletID}, Success: true})
	}
	// Deferred registrations are completed asynchronously: the filter's
	// RefreshSink pushes ActionRefreshWallets once the side scan merges.

	return ok()
}

// handleGetLedgerDelegateForWallets allocates a paging delegate over
// the named wallets.
func (b *BDV) handleGetLedgerDelegateForWallets(ids []string, _ proto.Arguments) (proto.Arguments, error) {
	return b.registerDelegate(ids, false)
}

// handleGetLedgerDelegateForLockboxes allocates a paging delegate over
// the named lockboxes.
func (b *BDV) handleGetLedgerDelegateForLockboxes(ids []string, _ proto.Arguments) (proto.Arguments, error) {
	return b.registerDelegate(ids, true)
}

func (b *BDV) registerDelegate(scopeIDs []string, isLockbox bool) (proto.Arguments, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	scopes := b.wallets
	if isLockbox {
		scopes = b.lockboxes
	}
	for _, id := range scopeIDs {
		if _, ok := scopes[id]; !ok {
			return nil, corerr.UnknownID("wallet", id)
		}
	}
	delegateID := uuid.NewString()
	b.delegates[delegateID] = &LedgerDelegate{ID: delegateID, Scopes: scopeIDs, IsLockbox: isLockbox}
	return ok(proto.BinaryDataObjectArg(delegateID))
}

// handleGetHistoryPage renders one page of ledger history. ids[0] is a
// delegateID returned by an earlier getLedgerDelegateFor* call, args[0]
// is the page ID as a BinaryDataObject.
func (b *BDV) handleGetHistoryPage(ids []string, args proto.Arguments) (proto.Arguments, error) {
	if !b.IsReady() {
		return nil, corerr.NotReady(b.ID)
	}
	if len(ids) == 0 {
		return nil, corerr.InvalidArgument("getHistoryPage requires a delegate id")
	}
	b.mu.RLock()
	delegate, ok2 := b.delegates[ids[0]]
	b.mu.RUnlock()
	if !ok2 {
		return nil, corerr.UnknownID("delegate", ids[0])
	}
	if len(args) == 0 {
		return nil, corerr.InvalidArgument("getHistoryPage requires a pageId argument")
	}
	pageID, isBin := args[0].(proto.BinaryDataObjectArg)
	if !isBin {
		return nil, corerr.InvalidArgument("getHistoryPage pageId must be a BinaryDataObject")
	}
	return b.renderHistoryPage(delegate, string(pageID))
}

func (b *BDV) renderHistoryPage(delegate *LedgerDelegate, pageID string) (proto.Arguments, error) {
	tx, err := b.collab.Store.BeginRead()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var records []proto.LedgerEntryRecord
	b.mu.RLock()
	scopeMap := b.wallets
	if delegate.IsLockbox {
		scopeMap = b.lockboxes
	}
	for _, scopeID := range delegate.Scopes {
		w, ok2 := scopeMap[scopeID]
		if !ok2 {
			continue
		}
		for _, obj := range w.ScrAddrObjs() {
			if obj.Paged == nil {
				continue
			}
			sh, err := b.loadSSH(obj.ScrAddr)
			if err != nil {
				b.mu.RUnlock()
				return nil, err
			}
			entries, err := obj.Paged.GetPageLedgerMap(tx, sh, b.collab.Headers, pageID)
			if err != nil {
				b.mu.RUnlock()
				return nil, err
			}
			for _, e := range entries {
				records = append(records, proto.FromLedgerEntry(obj.ScrAddr.Bytes(), e))
			}
		}
	}
	b.mu.RUnlock()

	return ok(proto.LedgerEntryVectorArg(records))
}

// handleGetBalancesAndCount returns the full/spendable/unconfirmed
// balances and txio count for one wallet or lockbox. ids[0] is the
// wallet ID. args is not read: confirmed balances come from the
// ConfirmedBal collaborator as it stands, not from a caller-chosen
// top-block height.
func (b *BDV) handleGetBalancesAndCount(ids []string, args proto.Arguments) (proto.Arguments, error) {
	if !b.IsReady() {
		return nil, corerr.NotReady(b.ID)
	}
	if len(ids) == 0 {
		return nil, corerr.InvalidArgument("getBalancesAndCount requires a wallet id")
	}
	b.mu.RLock()
	w, exists := b.wallets[ids[0]]
	if !exists {
		w, exists = b.lockboxes[ids[0]]
	}
	b.mu.RUnlock()
	if !exists {
		return nil, corerr.UnknownID("wallet", ids[0])
	}

	balances := w.ComputeBalances(b.collab.ConfirmedBal)
	return ok(
		proto.IntArg(balances.Full),
		proto.IntArg(balances.Spendable),
		proto.IntArg(balances.Unconf),
		proto.IntArg(int64(balances.Count)),
	)
}

// handleGetTxByHash reports whether the hash is tracked: Int(1) when a
// TxIOPair in the ZeroConfContainer's txioMap snapshot has it as its
// output or input tx hash, else Int(0). The confirmed store is not
// consulted and no raw tx is returned (a full raw tx fetch belongs to
// the out-of-scope block-file/p2p collaborators).
func (b *BDV) handleGetTxByHash(_ []string, args proto.Arguments) (proto.Arguments, error) {
	if len(args) == 0 {
		return nil, corerr.InvalidArgument("getTxByHash requires a tx hash")
	}
	hashArg, isBin := args[0].(proto.BinaryDataObjectArg)
	if !isBin || len(hashArg) != 32 {
		return nil, corerr.InvalidArgument("getTxByHash expects a 32-byte hash")
	}
	var hash chainhash.Hash
	copy(hash[:], hashArg)

	if b.collab.ZC == nil {
		return ok(proto.IntArg(0))
	}
	snapshot := b.collab.ZC.TxioMapSnapshot()
	for _, m := range snapshot {
		for _, t := range m {
			if t.OutTxHash == hash || t.InTxHash == hash {
				return ok(proto.IntArg(1))
			}
		}
	}
	return ok(proto.IntArg(0))
}

// handleHasHeaderWithHash is a thin pass-through to the header-lookup
// collaborator (the block-file parser owns the header index).
func (b *BDV) handleHasHeaderWithHash(_ []string, args proto.Arguments) (proto.Arguments, error) {
	if len(args) == 0 {
		return nil, corerr.InvalidArgument("hasHeaderWithHash requires a hash")
	}
	hashArg, isBin := args[0].(proto.BinaryDataObjectArg)
	if !isBin || len(hashArg) != 32 {
		return nil, corerr.InvalidArgument("hasHeaderWithHash expects a 32-byte hash")
	}
	if b.collab.HasHeader == nil {
		return ok(proto.IntArg(0))
	}
	var hash [32]byte
	copy(hash[:], hashArg)
	has := int64(0)
	if b.collab.HasHeader(hash) {
		has = 1
	}
	return ok(proto.IntArg(has))
}

// handleRegisterCallback is the long-polling primitive: it blocks on
// the SocketCallback's outbound
// queue until at least one event is ready, subject to the 2-waiter
// bound enforced inside Callback.Drain.
func (b *BDV) handleRegisterCallback(_ []string, _ proto.Arguments) (proto.Arguments, error) {
	events, err := b.callback.Drain()
	if err != nil {
		return nil, err
	}
	records := make([][]byte, len(events))
	for i, e := range events {
		records[i] = []byte(e.Kind.String())
	}
	return ok(proto.BinaryDataVectorArg(records))
}

// handleWaitOnBDV blocks until the BDV reaches Ready, then returns.
func (b *BDV) handleWaitOnBDV(_ []string, _ proto.Arguments) (proto.Arguments, error) {
	<-b.readyCh
	return ok()
}

// handleGetStatus returns a compact readiness/progress snapshot.
func (b *BDV) handleGetStatus(_ []string, _ proto.Arguments) (proto.Arguments, error) {
	ready := int64(0)
	if b.IsReady() {
		ready = 1
	}
	return ok(proto.IntArg(ready))
}
