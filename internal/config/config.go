// Package config parses the daemon's recognized configuration options
// with a go-flags-based parser.
package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
)

// DBType selects the ScrAddrFilter's tracking mode.
type DBType string

// Recognized armoryDbType values.
const (
	DBTypeSuper      DBType = "Super"
	DBTypeSelective  DBType = "Selective"
	defaultListen           = "127.0.0.1"
	defaultPort             = 9100
	defaultTxnPerPage       = 100
	defaultIdleReap         = "30m"
)

// Settings holds every recognized daemon option plus the usual logging
// flags.
type Settings struct {
	ArmoryDBType DBType `long:"armorydbtype" description:"Super or Selective" default:"Selective"`
	DataDir      string `long:"datadir" description:"directory holding SSH/block-index state" default:"./data"`
	BlkDir       string `long:"blkdir" description:"directory containing raw block files" default:"./blocks"`
	ListenAddr   string `long:"listenaddr" description:"transport bind address" default:"127.0.0.1"`
	ListenPort   int    `long:"listenport" description:"transport bind port" default:"9100"`
	MagicBytes   string `long:"magicbytes" description:"network identifier (mainnet/testnet/regtest)" default:"mainnet"`
	TxnPerPage   int    `long:"txnperpage" description:"paged-history page size" default:"100"`
	IdleReap     string `long:"idlereap" description:"GC threshold for BDV reap, Go duration syntax" default:"30m"`

	LogLevel string `long:"loglevel" description:"subsystem debug level spec" default:"info"`
	LogDir   string `long:"logdir" description:"directory for log output" default:"./logs"`
}

var active *Settings

// Active returns the process-wide parsed settings.
func Active() *Settings {
	return active
}

// Default returns a Settings populated with every default value, useful
// for tests that don't want to go through flag parsing.
func Default() *Settings {
	return &Settings{
		ArmoryDBType: DBTypeSelective,
		DataDir:      "./data",
		BlkDir:       "./blocks",
		ListenAddr:   defaultListen,
		ListenPort:   defaultPort,
		MagicBytes:   "mainnet",
		TxnPerPage:   defaultTxnPerPage,
		IdleReap:     defaultIdleReap,
		LogLevel:     "info",
		LogDir:       "./logs",
	}
}

// Parse parses argv (excluding argv[0]) into a Settings, validates it,
// and sets it as the process-wide active settings.
func Parse(argv []string) (*Settings, error) {
	settings := Default()
	parser := flags.NewParser(settings, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	active = settings
	return settings, nil
}

// Validate checks cross-field invariants not expressible via flag tags.
func (s *Settings) Validate() error {
	if s.ArmoryDBType != DBTypeSuper && s.ArmoryDBType != DBTypeSelective {
		return fmt.Errorf("armorydbtype must be %q or %q, got %q", DBTypeSuper, DBTypeSelective, s.ArmoryDBType)
	}
	if s.TxnPerPage <= 0 {
		return fmt.Errorf("txnperpage must be positive, got %d", s.TxnPerPage)
	}
	if s.ListenPort <= 0 || s.ListenPort > 65535 {
		return fmt.Errorf("listenport out of range: %d", s.ListenPort)
	}
	return nil
}
