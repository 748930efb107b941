package store

import (
	"encoding/binary"
	"fmt"
)

// CurrentSchemaVersion is written into every SDBI row this build
// produces.
const CurrentSchemaVersion uint16 = 1

// sdbiKey is the single metadata row in the SDBI table.
var sdbiKey = []byte("sdbi")

// SDBI is the database-level metadata row: the top scanned height and
// hash, and the schema version the database was written with.
type SDBI struct {
	TopScannedHeight uint32
	TopScannedHash   [32]byte
	SchemaVersion    uint16
}

func (s *SDBI) encode() []byte {
	buf := make([]byte, 4+32+2)
	binary.BigEndian.PutUint32(buf[0:4], s.TopScannedHeight)
	copy(buf[4:36], s.TopScannedHash[:])
	binary.BigEndian.PutUint16(buf[36:38], s.SchemaVersion)
	return buf
}

func decodeSDBI(raw []byte) (*SDBI, error) {
	if len(raw) < 38 {
		return nil, fmt.Errorf("store: truncated SDBI row (%d bytes)", len(raw))
	}
	s := &SDBI{
		TopScannedHeight: binary.BigEndian.Uint32(raw[0:4]),
		SchemaVersion:    binary.BigEndian.Uint16(raw[36:38]),
	}
	copy(s.TopScannedHash[:], raw[4:36])
	return s, nil
}

// PutSDBI writes the metadata row. Called by the main indexer after it
// durably absorbs a block, and only then: new-block notifications for a
// height must never precede its SDBI watermark.
func PutSDBI(tx WriteTx, s *SDBI) error {
	return tx.Put(TableSDBI, sdbiKey, s.encode())
}

// GetSDBI reads the metadata row, or returns a zero-valued SDBI at the
// current schema version for a freshly created database.
func GetSDBI(tx ReadTx) (*SDBI, error) {
	raw, err := tx.Get(TableSDBI, sdbiKey)
	if err == ErrNotFound {
		return &SDBI{SchemaVersion: CurrentSchemaVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSDBI(raw)
}
