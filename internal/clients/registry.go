// Package clients implements the bdvID -> BDV registry: registration,
// command dispatch, an idle-reaper GC thread, and process-wide
// shutdown.
package clients

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0ZTR/BitcoinArmory/internal/bdv"
	"github.com/0ZTR/BitcoinArmory/internal/corerr"
	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/panics"
	"github.com/0ZTR/BitcoinArmory/internal/proto"
)

// bdvIDBytes is the width of a generated bdvID, hex-encoded for use as
// a map key and wire identifier.
const bdvIDBytes = 20

// maxIDAttempts bounds the collision-retry loop in freshIDLocked.
// A collision among 160-bit random IDs is astronomically unlikely; this
// just guards against a broken rand source spinning forever.
const maxIDAttempts = 8

func newBDVID() (string, error) {
	var b [bdvIDBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("clients: generating bdvID: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

var log, _ = logs.Get(logs.CLNT)
var spawn = panics.GoroutineWrapperFunc(log)

// DefaultGCInterval is how often the idle reaper sweeps the registry.
const DefaultGCInterval = 30 * time.Second

// DefaultIdleTimeout is how long a BDV may go without a command or
// notification before the reaper terminates it.
const DefaultIdleTimeout = 10 * time.Minute

// Registry is the copy-on-write bdvID -> *bdv.BDV map. Readers
// (runCommand) never block on writers (registerBDV/shutdown): the live
// map is swapped atomically.
type Registry struct {
	writeMu sync.Mutex // serializes registerBDV/unregister/Shutdown
	bdvs    atomic.Value // map[string]*bdv.BDV

	gcInterval  time.Duration
	idleTimeout time.Duration

	shutdownMu sync.Mutex
	onShutdown func()

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs an empty Registry and starts its idle-reaper thread.
func New(gcInterval, idleTimeout time.Duration) *Registry {
	if gcInterval <= 0 {
		gcInterval = DefaultGCInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	r := &Registry{
		gcInterval:  gcInterval,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	r.bdvs.Store(map[string]*bdv.BDV{})
	spawn(r.gcLoop)
	return r
}

func (r *Registry) snapshot() map[string]*bdv.BDV {
	return r.bdvs.Load().(map[string]*bdv.BDV)
}

// RegisterBDV generates a fresh bdvID, constructs a new BDV bound to
// collab/callback under that ID, and publishes it. The new BDV is
// returned; its ID field carries the generated ID so the caller (the
// transport layer, replying to the client's registerBDV request) can
// hand it back to the client.
func (r *Registry) RegisterBDV(collab bdv.Collaborators, callback bdv.Callback) (*bdv.BDV, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.snapshot()
	id, err := r.freshIDLocked(old)
	if err != nil {
		return nil, err
	}

	b := bdv.New(id, collab, callback)
	next := make(map[string]*bdv.BDV, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[id] = b
	r.bdvs.Store(next)
	return b, nil
}

// freshIDLocked returns a bdvID not already present in existing. Caller
// must hold writeMu.
func (r *Registry) freshIDLocked(existing map[string]*bdv.BDV) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := newBDVID()
		if err != nil {
			return "", err
		}
		if _, collision := existing[id]; !collision {
			return id, nil
		}
	}
	return "", fmt.Errorf("clients: failed to allocate a unique bdvID after %d attempts", maxIDAttempts)
}

// FailureResponse renders err in the response wire shape a framing
// transport hands back to the client: a leading Int(0) failure
// discriminator, then the error kind and message.
func FailureResponse(err error) proto.Arguments {
	return proto.Arguments{
		proto.IntArg(0),
		proto.BinaryDataObjectArg(corerr.KindOf(err).String()),
		proto.BinaryDataObjectArg(err.Error()),
	}
}

// Get returns the BDV registered under id, if any.
func (r *Registry) Get(id string) (*bdv.BDV, bool) {
	b, ok := r.snapshot()[id]
	return b, ok
}

// RunCommand dispatches method against the BDV registered under bdvID.
func (r *Registry) RunCommand(bdvID, method string, ids []string, args proto.Arguments) (proto.Arguments, error) {
	b, ok := r.Get(bdvID)
	if !ok {
		return nil, corerr.UnknownID("bdv", bdvID)
	}
	return b.RunCommand(method, ids, args)
}

// Unregister removes and terminates the BDV registered under id, if
// present (explicit client disconnect, distinct from idle GC).
func (r *Registry) Unregister(id string) {
	r.writeMu.Lock()
	old := r.snapshot()
	b, ok := old[id]
	if !ok {
		r.writeMu.Unlock()
		return
	}
	next := make(map[string]*bdv.BDV, len(old)-1)
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	r.bdvs.Store(next)
	r.writeMu.Unlock()

	b.Terminate()
}

// NotifyRefresh implements scraddr.RefreshSink: the shared ScrAddrFilter
// reports a completed (or failed) side scan against a scoped wallet ID
// (bdv.ScopedWalletID), and the registry routes it to the owning BDV's
// notification queue as a BDV_Refresh action.
func (r *Registry) NotifyRefresh(scopedWalletID string, success bool) {
	bdvID, walletID, ok := bdv.SplitScopedWalletID(scopedWalletID)
	if !ok {
		log.Errorf("clients: malformed scoped wallet id %q from RefreshSink", scopedWalletID)
		return
	}
	b, ok := r.Get(bdvID)
	if !ok {
		// The BDV was GC'd or disconnected while its side scan was still
		// running; nothing to deliver to.
		return
	}
	b.PushAction(bdv.Action{Kind: bdv.ActionRefreshWallets, WalletIDs: []string{walletID}, Success: success})
}

// BroadcastNewBlock pushes a BDV_NewBlock action to every registered
// BDV, for the main indexer thread to call once per connected block.
func (r *Registry) BroadcastNewBlock(height uint32) {
	for _, b := range r.snapshot() {
		b.PushAction(bdv.Action{Kind: bdv.ActionNewBlock, Height: height})
	}
}

// BroadcastZC pushes a BDV_ZC action to every registered BDV: the main
// indexer calls it with nil after ParseNewZC integrates a batch, and
// with the purge's invalidated-keys map after a new block so each
// wallet can reverse-apply the removed entries before merging the
// surviving additions.
func (r *Registry) BroadcastZC(invalidated map[string][]string) {
	for _, b := range r.snapshot() {
		b.PushAction(bdv.Action{Kind: bdv.ActionZC, InvalidatedZC: invalidated})
	}
}

// Len returns the number of currently registered BDVs.
func (r *Registry) Len() int {
	return len(r.snapshot())
}

func (r *Registry) gcLoop() {
	ticker := time.NewTicker(r.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reapIdle()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) reapIdle() {
	cutoff := time.Now().Add(-r.idleTimeout).UnixNano()

	r.writeMu.Lock()
	old := r.snapshot()
	var reaped []*bdv.BDV
	next := make(map[string]*bdv.BDV, len(old))
	for id, b := range old {
		if b.LastActivity() < cutoff && b.IsReady() {
			reaped = append(reaped, b)
			continue
		}
		next[id] = b
	}
	if len(reaped) > 0 {
		r.bdvs.Store(next)
	}
	r.writeMu.Unlock()

	for _, b := range reaped {
		log.Infof("clients: reaping idle bdv %s", b.ID)
		b.Terminate()
	}
}

// SetShutdownCallback registers the transport-supplied callback Shutdown
// invokes after every BDV has been terminated.
func (r *Registry) SetShutdownCallback(fn func()) {
	r.shutdownMu.Lock()
	r.onShutdown = fn
	r.shutdownMu.Unlock()
}

// Shutdown stops the GC thread, terminates every registered BDV, then
// invokes the transport's shutdown callback.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.writeMu.Lock()
		old := r.snapshot()
		r.bdvs.Store(map[string]*bdv.BDV{})
		r.writeMu.Unlock()

		for _, b := range old {
			b.Terminate()
		}

		r.shutdownMu.Lock()
		fn := r.onShutdown
		r.shutdownMu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
