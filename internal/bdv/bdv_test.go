package bdv

import (
	"testing"
	"time"

	"github.com/0ZTR/BitcoinArmory/internal/corerr"
	"github.com/0ZTR/BitcoinArmory/internal/proto"
	"github.com/0ZTR/BitcoinArmory/internal/scraddr"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
	"github.com/0ZTR/BitcoinArmory/internal/zeroconf"
)

func testScrAddr(b byte) txio.ScriptHash {
	return txio.NewScriptHash(txio.PrefixP2PKH, []byte{b, b, b})
}

type fakeHeaders struct{}

func (fakeHeaders) BlockTime(hgtx txio.HgTx) (uint32, bool) { return 0, false }
func (fakeHeaders) IsCoinbaseTx(hgtx txio.HgTx, txIndex uint16) bool { return false }

// fakeRescanner is a no-op Rescanner: every side scan returns immediately
// with no discovered outputs.
type fakeRescanner struct{}

func (fakeRescanner) RescanRange(from, to uint32, filterFn func(txio.ScriptHash) bool) (map[string][]*txio.TxIOPair, error) {
	return nil, nil
}

// fakeSink records NotifyRefresh calls and exposes a channel so a test
// can wait for a deferred side scan to finish, mirroring the Registry's
// role as a BDV-external RefreshSink.
type fakeSink struct {
	notified chan struct{}
	bdvID    string
	b        *BDV
}

func (s *fakeSink) NotifyRefresh(scopedWalletID string, success bool) {
	bdvID, walletID, ok := SplitScopedWalletID(scopedWalletID)
	if !ok || bdvID != s.bdvID {
		return
	}
	s.b.PushAction(Action{Kind: ActionRefreshWallets, WalletIDs: []string{walletID}, Success: success})
	select {
	case s.notified <- struct{}{}:
	default:
	}
}

func testCollaborators(filter *scraddr.Filter, zc *zeroconf.Container, kv *memKV) Collaborators {
	return Collaborators{
		Filter:         filter,
		ZC:             zc,
		Store:          kv,
		Headers:        fakeHeaders{},
		ConfirmedBal:   func(txio.ScriptHash) (int64, int64) { return 0, 0 },
		TopBlockHeight: func() uint32 { return 100 },
		TxnPerPage:     100,
	}
}

func newTestBDV(id string, collab Collaborators) (*BDV, *SocketCallback) {
	cb := NewSocketCallback()
	return New(id, collab, cb), cb
}

func drainUntil(t *testing.T, cb *SocketCallback, kind ActionKind) Action {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, err := cb.Drain()
		if err != nil {
			t.Fatalf("Drain: %s", err)
		}
		for _, e := range events {
			if e.Kind == kind {
				return e
			}
		}
	}
	t.Fatalf("timed out waiting for action kind %s", kind)
	return Action{}
}

func TestGoOnlineMarksReadyAndEmitsBDMReady(t *testing.T) {
	filter := scraddr.New(scraddr.Supernode, fakeRescanner{}, noopSink{}, nil)
	collab := testCollaborators(filter, nil, newMemKV())
	b, cb := newTestBDV("bdv1", collab)
	defer b.Terminate()

	if b.IsReady() {
		t.Fatalf("freshly constructed BDV should not be ready")
	}

	if _, err := b.RunCommand("goOnline", nil, nil); err != nil {
		t.Fatalf("goOnline: %s", err)
	}

	drainUntil(t, cb, ActionReady)
	if !b.IsReady() {
		t.Errorf("IsReady() = false after goOnline completed")
	}
}

func TestUnknownMethodIsInvalidArgument(t *testing.T) {
	filter := scraddr.New(scraddr.Supernode, fakeRescanner{}, noopSink{}, nil)
	collab := testCollaborators(filter, nil, newMemKV())
	b, _ := newTestBDV("bdv1", collab)
	defer b.Terminate()

	_, err := b.RunCommand("notAMethod", nil, nil)
	coreErr, ok := err.(*corerr.Error)
	if !ok || coreErr.Kind != corerr.KindInvalidArgument {
		t.Fatalf("RunCommand(unknown) error = %v, want KindInvalidArgument", err)
	}
}

func TestGetBalancesBeforeReadyIsNotReady(t *testing.T) {
	filter := scraddr.New(scraddr.Supernode, fakeRescanner{}, noopSink{}, nil)
	collab := testCollaborators(filter, nil, newMemKV())
	b, _ := newTestBDV("bdv1", collab)
	defer b.Terminate()

	_, err := b.RunCommand("getBalancesAndCount", []string{"wallet1"}, nil)
	coreErr, ok := err.(*corerr.Error)
	if !ok || coreErr.Kind != corerr.KindNotReady {
		t.Fatalf("getBalancesAndCount before ready error = %v, want KindNotReady", err)
	}
}

// TestRegisterWalletBeforeOnlineIsImmediate covers the
// register-before-online flow: a Supernode-mode filter always
// reports Immediate, and registerWallet synthesizes its own
// ActionRefreshWallets without waiting on an external RefreshSink.
func TestRegisterWalletBeforeOnlineIsImmediate(t *testing.T) {
	filter := scraddr.New(scraddr.Supernode, fakeRescanner{}, noopSink{}, nil)
	collab := testCollaborators(filter, nil, newMemKV())
	b, cb := newTestBDV("bdv1", collab)
	defer b.Terminate()

	addrs := proto.BinaryDataVectorArg{testScrAddr(1).Bytes()}
	if _, err := b.RunCommand("registerWallet", []string{"wallet1"}, proto.Arguments{addrs}); err != nil {
		t.Fatalf("registerWallet: %s", err)
	}

	action := drainUntil(t, cb, ActionRefreshWallets)
	if !action.Success || len(action.WalletIDs) != 1 || action.WalletIDs[0] != "wallet1" {
		t.Fatalf("unexpected refresh action: %+v", action)
	}
}

// TestRegisterWalletAfterOnlineRoutesThroughScopedWalletID covers
// the register-after-online flow: a Selective filter at
// the chain tip defers to a side scan, whose RefreshSink notification
// must round-trip through ScopedWalletID/SplitScopedWalletID back to
// this BDV's own notification queue (the contract the clients registry
// relies on to fan out NotifyRefresh across many BDVs).
func TestRegisterWalletAfterOnlineRoutesThroughScopedWalletID(t *testing.T) {
	sink := &fakeSink{notified: make(chan struct{}, 1), bdvID: "bdv1"}
	filter := scraddr.New(scraddr.Selective, fakeRescanner{}, sink, nil)
	filter.SetMainTip(500, true)

	collab := testCollaborators(filter, nil, newMemKV())
	b, cb := newTestBDV("bdv1", collab)
	sink.b = b
	defer b.Terminate()

	addrs := proto.BinaryDataVectorArg{testScrAddr(2).Bytes()}
	if _, err := b.RunCommand("registerWallet", []string{"wallet2"}, proto.Arguments{addrs}); err != nil {
		t.Fatalf("registerWallet: %s", err)
	}

	// The side scan runs asynchronously; poll until it merges.
	deadline := time.Now().Add(2 * time.Second)
	for !filter.Tracks(testScrAddr(2)) {
		filter.CheckForMerge()
		if time.Now().After(deadline) {
			t.Fatalf("side scan did not merge within the deadline")
		}
		time.Sleep(time.Millisecond)
	}

	action := drainUntil(t, cb, ActionRefreshWallets)
	if !action.Success || len(action.WalletIDs) != 1 || action.WalletIDs[0] != "wallet2" {
		t.Fatalf("unexpected refresh action after deferred merge: %+v", action)
	}
}

func TestApplyZCMergesDiscoveredOutputsIntoWallet(t *testing.T) {
	filter := scraddr.New(scraddr.Supernode, fakeRescanner{}, noopSink{}, nil)
	zc := zeroconf.New(zeroconf.Config{}, nil)
	collab := testCollaborators(filter, zc, newMemKV())
	b, _ := newTestBDV("bdv1", collab)
	defer b.Terminate()

	scrAddr := testScrAddr(3)
	addrs := proto.BinaryDataVectorArg{scrAddr.Bytes()}
	if _, err := b.RunCommand("registerWallet", []string{"wallet3"}, proto.Arguments{addrs}); err != nil {
		t.Fatalf("registerWallet: %s", err)
	}

	tx := &zeroconf.Tx{
		Hash:        [32]byte{7},
		ReceiveTime: 1,
		Outputs:     []zeroconf.TxOut{{Value: 1234, ScrAddr: scrAddr.Bytes()}},
	}
	zc.AddRawTx(tx, 1)
	if ours := zc.ParseNewZC(func(txio.ScriptHash) bool { return true }); !ours {
		t.Fatalf("ParseNewZC should have found the tracked output")
	}

	b.PushAction(Action{Kind: ActionZC})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.RLock()
		w := b.wallets["wallet3"]
		b.mu.RUnlock()
		obj, ok := w.Get(scrAddr)
		if ok && obj.Balance() == 1234 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("wallet3's scrAddr balance was not updated by the ZC action")
}

// TestApplyZCReverseAppliesPurgedKeys covers the double-spend conflict
// path: a mined double-spend purges a previously-seen
// ZC output, and the wallet's unconfirmed balance must drop back to 0
// once the invalidated keys reach the BDV.
func TestApplyZCReverseAppliesPurgedKeys(t *testing.T) {
	filter := scraddr.New(scraddr.Supernode, fakeRescanner{}, noopSink{}, nil)
	zc := zeroconf.New(zeroconf.Config{}, nil)
	collab := testCollaborators(filter, zc, newMemKV())
	b, _ := newTestBDV("bdv1", collab)
	defer b.Terminate()

	scrAddr := testScrAddr(4)
	addrs := proto.BinaryDataVectorArg{scrAddr.Bytes()}
	if _, err := b.RunCommand("registerWallet", []string{"wallet4"}, proto.Arguments{addrs}); err != nil {
		t.Fatalf("registerWallet: %s", err)
	}

	tx := &zeroconf.Tx{
		Hash:        [32]byte{8},
		ReceiveTime: 1,
		Outputs:     []zeroconf.TxOut{{Value: 500, ScrAddr: scrAddr.Bytes()}},
	}
	zc.AddRawTx(tx, 1)
	if ours := zc.ParseNewZC(func(txio.ScriptHash) bool { return true }); !ours {
		t.Fatalf("ParseNewZC should have found the tracked output")
	}

	b.PushAction(Action{Kind: ActionZC})
	waitForBalance(t, b, "wallet4", scrAddr, 500)

	// A new block confirms a conflicting spend: nothing in the mempool
	// is ours anymore, and the purge reports the removed keys.
	invalidated := zc.Purge(func(txio.ScriptHash) bool { return false })
	keys := invalidated[string(scrAddr.Bytes())]
	if len(keys) != 1 {
		t.Fatalf("Purge invalidated %d keys, want 1", len(keys))
	}

	b.PushAction(Action{Kind: ActionZC, InvalidatedZC: invalidated})
	waitForBalance(t, b, "wallet4", scrAddr, 0)
}

func waitForBalance(t *testing.T, b *BDV, walletID string, scrAddr txio.ScriptHash, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got int64
	for time.Now().Before(deadline) {
		b.mu.RLock()
		w := b.wallets[walletID]
		b.mu.RUnlock()
		if obj, ok := w.Get(scrAddr); ok {
			got = obj.Balance()
			if got == want {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("wallet %s scrAddr balance = %d, want %d", walletID, got, want)
}

// noopSink discards NotifyRefresh calls; used where a test does not
// care about the completion notification (Supernode mode never defers).
type noopSink struct{}

func (noopSink) NotifyRefresh(scopedWalletID string, success bool) {}
