// Package bdv implements the per-view state machine: one client
// session, its registered wallets/lockboxes, a notification queue
// fanning out block/refresh/ZC events, and command dispatch.
package bdv

import "github.com/0ZTR/BitcoinArmory/internal/proto"

// ActionKind enumerates the notification kinds a BDV can receive.
type ActionKind int

// Recognized action kinds.
const (
	ActionNewBlock ActionKind = iota
	ActionRefreshWallets
	ActionZC
	ActionProgress
	ActionReady
	ActionTerminate
)

func (k ActionKind) String() string {
	switch k {
	case ActionNewBlock:
		return "NewBlock"
	case ActionRefreshWallets:
		return "RefreshWallets"
	case ActionZC:
		return "ZC"
	case ActionProgress:
		return "Progress"
	case ActionReady:
		return "Ready"
	case ActionTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// Action is one entry of the notificationStack.
type Action struct {
	Kind ActionKind

	// NewBlock / RefreshWallets
	Height    uint32
	WalletIDs []string // empty means "all wallets" for RefreshWallets
	Success   bool      // RefreshWallets: whether the triggering side scan succeeded

	// ZC: txio keys the container's purge removed (scrAddr bytes ->
	// txioKeys), for wallets to reverse-apply before merging additions.
	InvalidatedZC map[string][]string

	// Progress
	Progress proto.ProgressDataArg
}
