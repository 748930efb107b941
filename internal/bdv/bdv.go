package bdv

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0ZTR/BitcoinArmory/internal/corerr"
	"github.com/0ZTR/BitcoinArmory/internal/ledger"
	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/panics"
	"github.com/0ZTR/BitcoinArmory/internal/proto"
	"github.com/0ZTR/BitcoinArmory/internal/scraddr"
	sshpkg "github.com/0ZTR/BitcoinArmory/internal/ssh"
	"github.com/0ZTR/BitcoinArmory/internal/store"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
	"github.com/0ZTR/BitcoinArmory/internal/walletview"
	"github.com/0ZTR/BitcoinArmory/internal/zeroconf"
)

var log, _ = logs.Get(logs.BDVS)
var spawn = panics.GoroutineWrapperFunc(log)

const notificationQueueCapacity = 256

// Handler is one command-table entry: it receives the request's id
// list and arguments and returns the response arguments.
type Handler func(ids []string, args proto.Arguments) (proto.Arguments, error)

// Collaborators groups the external interfaces a BDV needs that are
// owned by the blockchain-manager.
type Collaborators struct {
	Filter          *scraddr.Filter
	ZC              *zeroconf.Container
	Store           store.KVStore
	Headers         ledger.HeaderLookup
	HasHeader       func(hash [32]byte) bool
	ConfirmedBal    func(scrAddr txio.ScriptHash) (full, spendable int64)
	TopBlockHeight  func() uint32
	TxnPerPage      int
}

// LedgerDelegate scopes getHistoryPage calls to a set of wallets or
// lockboxes registered via getLedgerDelegateForWallets/Lockboxes.
type LedgerDelegate struct {
	ID      string
	Scopes  []string // wallet or lockbox IDs
	IsLockbox bool
}

// BDV is the per-client session object: registered wallets and
// lockboxes, ledger delegates, and the notification queue.
type BDV struct {
	ID string

	collab Collaborators

	mu        sync.RWMutex
	wallets   map[string]*walletview.BtcWallet
	lockboxes map[string]*walletview.BtcWallet
	delegates map[string]*LedgerDelegate

	notifQueue *notificationQueue
	callback   Callback

	commandTable map[string]Handler

	ready      int32 // atomic bool
	readyCh    chan struct{}
	readyOnce  sync.Once

	lastActivity int64 // unix nanos, atomic

	stopOnce sync.Once
}

// New constructs a BDV. It is not Ready until GoOnline completes.
func New(id string, collab Collaborators, callback Callback) *BDV {
	b := &BDV{
		ID:         id,
		collab:     collab,
		wallets:    make(map[string]*walletview.BtcWallet),
		lockboxes:  make(map[string]*walletview.BtcWallet),
		delegates:  make(map[string]*LedgerDelegate),
		notifQueue: newNotificationQueue(notificationQueueCapacity),
		callback:   callback,
		readyCh:    make(chan struct{}),
	}
	b.touch()
	b.commandTable = b.buildCommandTable()
	spawn(b.maintenanceLoop)
	return b
}

func (b *BDV) touch() {
	atomic.StoreInt64(&b.lastActivity, time.Now().UnixNano())
}

// LastActivity returns the unix-nano timestamp of the last command or
// notification processed by this BDV, for the GC idle-reap check.
func (b *BDV) LastActivity() int64 {
	return atomic.LoadInt64(&b.lastActivity)
}

// IsReady reports whether the initial scan has completed.
func (b *BDV) IsReady() bool {
	return atomic.LoadInt32(&b.ready) == 1
}

// markReady fulfills the readiness future and emits BDM_Ready exactly
// once.
func (b *BDV) markReady() {
	b.readyOnce.Do(func() {
		atomic.StoreInt32(&b.ready, 1)
		close(b.readyCh)
		b.notifQueue.Push(Action{Kind: ActionReady})
	})
}

// RunCommand dispatches method against this BDV's command table.
// Unknown methods fail with InvalidArgument.
func (b *BDV) RunCommand(method string, ids []string, args proto.Arguments) (proto.Arguments, error) {
	b.touch()
	handler, ok := b.commandTable[method]
	if !ok {
		return nil, corerr.InvalidArgument("unknown method %q", method)
	}
	return handler(ids, args)
}

// PushAction enqueues a notification for this BDV's maintenance thread.
// Used by the clients-registry fan-out and the ZeroConfContainer/main
// indexer to deliver NewBlock/RefreshWallets/ZC/Progress events.
func (b *BDV) PushAction(a Action) {
	b.notifQueue.Push(a)
}

// Terminate stops the maintenance thread and releases any blocked
// registerCallback waiter.
func (b *BDV) Terminate() {
	b.stopOnce.Do(func() {
		b.notifQueue.Push(Action{Kind: ActionTerminate})
		b.notifQueue.StopBlockingLoop()
		b.callback.Close()
	})
}

// maintenanceLoop drains the notification queue and applies each action
//: new-block triggers ledger append and a NewBlock
// callback enqueue; refresh triggers paged-history invalidation; ZC
// re-scans wallets against the container's newTxioMap and enqueues
// BDV_ZC; terminate exits the thread.
func (b *BDV) maintenanceLoop() {
	for {
		action, ok := b.notifQueue.Get()
		if !ok || action.Kind == ActionTerminate {
			return
		}

		switch action.Kind {
		case ActionNewBlock:
			b.applyNewBlock(action)
		case ActionRefreshWallets:
			b.applyRefresh(action)
		case ActionZC:
			b.applyZC(action)
		case ActionReady, ActionProgress:
			// forwarded to the callback transport as-is below.
		}

		b.callback.Emit(action)
	}
}

func (b *BDV) applyNewBlock(action Action) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.wallets {
		b.reloadWallet(w, action.Height)
	}
	for _, w := range b.lockboxes {
		b.reloadWallet(w, action.Height)
	}
}

func (b *BDV) reloadWallet(w *walletview.BtcWallet, height uint32) {
	for _, obj := range w.ScrAddrObjs() {
		sh, err := b.loadSSH(obj.ScrAddr)
		if err != nil {
			log.Errorf("bdv %s: reloading SSH for %s after block %d: %s", b.ID, obj.ScrAddr, height, err)
			continue
		}
		obj.LoadFromSSH(sh, b.collab.TxnPerPage)
	}
}

// applyRefresh reloads only the wallets named in action.WalletIDs
// (empty means every wallet), the target of a deferred
// registerAddresses side scan merging into the shared filter.
func (b *BDV) applyRefresh(action Action) {
	if !action.Success {
		log.Warnf("bdv %s: side scan for %v failed, wallet state left stale", b.ID, action.WalletIDs)
		return
	}
	if len(action.WalletIDs) == 0 {
		b.applyNewBlock(action)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range action.WalletIDs {
		if w, ok := b.wallets[id]; ok {
			b.reloadWallet(w, action.Height)
		}
		if w, ok := b.lockboxes[id]; ok {
			b.reloadWallet(w, action.Height)
		}
	}
}

func (b *BDV) applyZC(action Action) {
	if b.collab.ZC == nil {
		return
	}
	delta := b.collab.ZC.DrainNewTxio()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.wallets {
		b.applyZCToWallet(w, delta, action.InvalidatedZC)
	}
	for _, w := range b.lockboxes {
		b.applyZCToWallet(w, delta, action.InvalidatedZC)
	}
}

// applyZCToWallet reverse-applies purge invalidations first, then merges
// the container's additions, so an output both invalidated and
// re-published in the same purge cycle survives.
func (b *BDV) applyZCToWallet(w *walletview.BtcWallet, delta map[string]map[string]*txio.TxIOPair, invalidated map[string][]string) {
	for _, obj := range w.ScrAddrObjs() {
		key := string(obj.ScrAddr.Bytes())
		if keys, ok := invalidated[key]; ok {
			obj.InvalidateZC(keys)
		}
		if m, ok := delta[key]; ok {
			obj.ApplyZC(m)
		}
	}
}

func (b *BDV) loadSSH(scrAddr txio.ScriptHash) (*sshpkg.StoredScriptHistory, error) {
	tx, err := b.collab.Store.BeginRead()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return sshpkg.Load(tx, scrAddr)
}

// scopedWalletIDSep separates a BDV's ID from a wallet ID inside the
// composite key handed to the shared ScrAddrFilter's RefreshSink, so a
// registry fanning out NotifyRefresh callbacks across many BDVs can
// route each one back to the BDV that issued the registerAddresses
// call.
const scopedWalletIDSep = "\x1f"

// ScopedWalletID composes walletID with this BDV's ID for passing to a
// shared RefreshSink.
func (b *BDV) ScopedWalletID(walletID string) string {
	return b.ID + scopedWalletIDSep + walletID
}

// SplitScopedWalletID reverses ScopedWalletID.
func SplitScopedWalletID(scoped string) (bdvID, walletID string, ok bool) {
	i := strings.Index(scoped, scopedWalletIDSep)
	if i < 0 {
		return "", "", false
	}
	return scoped[:i], scoped[i+1:], true
}
