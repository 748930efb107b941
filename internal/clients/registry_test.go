package clients

import (
	"testing"
	"time"

	"github.com/0ZTR/BitcoinArmory/internal/bdv"
	"github.com/0ZTR/BitcoinArmory/internal/corerr"
	"github.com/0ZTR/BitcoinArmory/internal/proto"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newTestRegistry() *Registry {
	return New(time.Hour, time.Hour) // GC disabled for the duration of a single test
}

func TestRegisterBDVGeneratesDistinctIDs(t *testing.T) {
	r := New(time.Hour, time.Hour)
	defer r.Shutdown()

	b1, err := r.RegisterBDV(bdv.Collaborators{}, bdv.NewSocketCallback())
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}
	b2, err := r.RegisterBDV(bdv.Collaborators{}, bdv.NewSocketCallback())
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}

	if b1.ID == "" || b2.ID == "" {
		t.Fatalf("RegisterBDV produced an empty id: %q, %q", b1.ID, b2.ID)
	}
	if b1.ID == b2.ID {
		t.Fatalf("two RegisterBDV calls produced the same id %q", b1.ID)
	}
	// a 20-byte random id, hex-encoded (40 hex chars).
	if len(b1.ID) != 40 {
		t.Errorf("len(bdvID) = %d, want 40 (20 bytes hex-encoded)", len(b1.ID))
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestGetReturnsRegisteredBDV(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	b, err := r.RegisterBDV(bdv.Collaborators{}, bdv.NewSocketCallback())
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}
	got, ok := r.Get(b.ID)
	if !ok || got != b {
		t.Fatalf("Get(%q) = %v, %t, want the registered BDV", b.ID, got, ok)
	}
	if _, ok := r.Get("not-a-real-id"); ok {
		t.Errorf("Get on an unknown id should report not-found")
	}
}

func TestRunCommandDispatchesToRegisteredBDV(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	b, err := r.RegisterBDV(bdv.Collaborators{}, bdv.NewSocketCallback())
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}

	resp, err := r.RunCommand(b.ID, "getStatus", nil, nil)
	if err != nil {
		t.Fatalf("RunCommand: %s", err)
	}
	if len(resp) == 0 {
		t.Fatalf("getStatus returned an empty response")
	}
}

func TestFailureResponseCarriesKindAndMessage(t *testing.T) {
	args := FailureResponse(corerr.Busy("side scan already running"))
	if !args.IsFailure() {
		t.Fatalf("FailureResponse did not produce a failure-discriminated response")
	}
	if len(args) != 3 {
		t.Fatalf("FailureResponse returned %d arguments, want 3", len(args))
	}
	kind, ok := args[1].(proto.BinaryDataObjectArg)
	if !ok || string(kind) != "Busy" {
		t.Errorf("kind argument = %v, want %q", args[1], "Busy")
	}
}

func TestRunCommandUnknownBDVIsUnknownID(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	_, err := r.RunCommand("does-not-exist", "getStatus", nil, nil)
	coreErr, ok := err.(*corerr.Error)
	if !ok || coreErr.Kind != corerr.KindUnknownID {
		t.Fatalf("RunCommand(unknown bdvID) error = %v, want KindUnknownID", err)
	}
}

func TestUnregisterRemovesAndTerminates(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	b, err := r.RegisterBDV(bdv.Collaborators{}, bdv.NewSocketCallback())
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}
	r.Unregister(b.ID)

	if _, ok := r.Get(b.ID); ok {
		t.Errorf("Get(%q) after Unregister should report not-found", b.ID)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Unregister = %d, want 0", r.Len())
	}
}

// TestNotifyRefreshRoutesToOwningBDV covers the scoped-wallet-id
// contract the shared ScrAddrFilter's RefreshSink depends on: the
// registry must split a scoped wallet id back to the exact BDV that
// issued the registerAddresses call, and only that BDV.
func TestNotifyRefreshRoutesToOwningBDV(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	cb1 := bdv.NewSocketCallback()
	cb2 := bdv.NewSocketCallback()
	b1, err := r.RegisterBDV(bdv.Collaborators{}, cb1)
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}
	b2, err := r.RegisterBDV(bdv.Collaborators{}, cb2)
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}

	r.NotifyRefresh(b1.ScopedWalletID("walletA"), true)

	events, err := cb1.Drain()
	if err != nil {
		t.Fatalf("cb1.Drain: %s", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == bdv.ActionRefreshWallets && len(e.WalletIDs) == 1 && e.WalletIDs[0] == "walletA" {
			found = true
		}
	}
	if !found {
		t.Fatalf("b1 did not receive the refresh action: %+v", events)
	}

	// b2 never registered anything and must not have been routed the
	// notification meant for b1's wallet.
	r.Unregister(b2.ID)
	if _, err := cb2.Drain(); err == nil {
		t.Errorf("cb2 should report TransportClosed (no pending events) after Unregister, got a drain success")
	}
}

func TestBroadcastNewBlockAndZCReachEveryBDV(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	cb := bdv.NewSocketCallback()
	_, err := r.RegisterBDV(bdv.Collaborators{}, cb)
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}

	r.BroadcastNewBlock(42)
	events, err := cb.Drain()
	if err != nil {
		t.Fatalf("Drain: %s", err)
	}
	if len(events) != 1 || events[0].Kind != bdv.ActionNewBlock || events[0].Height != 42 {
		t.Fatalf("unexpected broadcast event: %+v", events)
	}

	r.BroadcastZC(nil)
	events, err = cb.Drain()
	if err != nil {
		t.Fatalf("Drain: %s", err)
	}
	if len(events) != 1 || events[0].Kind != bdv.ActionZC {
		t.Fatalf("unexpected ZC broadcast event: %+v", events)
	}

	invalidated := map[string][]string{"addr": {"zc:1:0"}}
	r.BroadcastZC(invalidated)
	events, err = cb.Drain()
	if err != nil {
		t.Fatalf("Drain: %s", err)
	}
	if len(events) != 1 || len(events[0].InvalidatedZC) != 1 {
		t.Fatalf("ZC broadcast dropped the invalidated-keys map: %+v", events)
	}
}

// TestIdleReaperTerminatesOnlyReadyIdleBDVs exercises the GC thread: a
// BDV that has completed goOnline (Ready) and gone idle past the
// timeout is reaped; a freshly constructed (not-yet-ready) BDV is left
// alone even past the same timeout, since reaping mid-initial-scan
// would strand its goOnline caller.
func TestIdleReaperTerminatesOnlyReadyIdleBDVs(t *testing.T) {
	r := New(5*time.Millisecond, 5*time.Millisecond)
	defer r.Shutdown()

	readyCb := bdv.NewSocketCallback()
	ready, err := r.RegisterBDV(bdv.Collaborators{}, readyCb)
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}
	if _, err := r.RunCommand(ready.ID, "goOnline", nil, nil); err != nil {
		t.Fatalf("goOnline: %s", err)
	}
	waitFor(t, 2*time.Second, ready.IsReady)

	notReadyCb := bdv.NewSocketCallback()
	notReady, err := r.RegisterBDV(bdv.Collaborators{}, notReadyCb)
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, stillThere := r.Get(ready.ID)
		return !stillThere
	})
	if _, ok := r.Get(notReady.ID); !ok {
		t.Errorf("idle reaper removed a not-yet-ready BDV")
	}
}

func TestShutdownTerminatesEveryBDVAndStopsGC(t *testing.T) {
	r := New(time.Hour, time.Hour)

	cb := bdv.NewSocketCallback()
	_, err := r.RegisterBDV(bdv.Collaborators{}, cb)
	if err != nil {
		t.Fatalf("RegisterBDV: %s", err)
	}

	shutdownCalled := false
	r.SetShutdownCallback(func() { shutdownCalled = true })

	r.Shutdown()

	if r.Len() != 0 {
		t.Errorf("Len() after Shutdown = %d, want 0", r.Len())
	}
	if !shutdownCalled {
		t.Errorf("Shutdown did not invoke the transport shutdown callback")
	}
	if _, err := cb.Drain(); err == nil {
		t.Errorf("Drain on a terminated BDV's callback should report TransportClosed")
	}

	// Idempotent: a second Shutdown must not panic or block.
	r.Shutdown()
}
