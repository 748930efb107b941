package ssh

import (
	"github.com/0ZTR/BitcoinArmory/internal/store"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

// Writer persists SSH mutations to the KV store. It implements
// scraddr.HistoryWriter (structurally; this package does not import
// scraddr to avoid a cycle), so a completed side scan's discoveries
// actually land in the durable per-scrAddr index
// instead of only flipping a success flag.
type Writer struct {
	kv store.KVStore
}

// NewWriter wraps kv as a scraddr.HistoryWriter.
func NewWriter(kv store.KVStore) *Writer {
	return &Writer{kv: kv}
}

// CommitTxio durably records one discovered TxIOPair for scrAddr at
// block height hgtx, updating both the HISTORY summary row and the
// SUBSSH bucket it falls into.
func (w *Writer) CommitTxio(scrAddr txio.ScriptHash, hgtx txio.HgTx, t *txio.TxIOPair) error {
	tx, err := w.kv.BeginWrite()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sshObj, err := Load(tx, scrAddr)
	if err != nil {
		return err
	}
	sub, err := sshObj.LoadSubHistory(tx, hgtx)
	if err != nil {
		return err
	}
	sshObj.AddTxio(hgtx, t)

	if err := tx.Put(store.TableSubSSH, subSSHKey(scrAddr, hgtx), sub.Encode()); err != nil {
		return err
	}
	if err := tx.Put(store.TableHistory, scrAddr.Bytes(), sshObj.Encode()); err != nil {
		return err
	}
	if t.IsSpent() {
		if err := tx.Put(store.TableSpentness, t.TxOutKey, t.TxInKey); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetLastScanned advances scrAddr's scanned watermark to upToHeight and
// persists it. A no-op if the
// stored watermark is already at least upToHeight.
func (w *Writer) SetLastScanned(scrAddr txio.ScriptHash, upToHeight uint32) error {
	tx, err := w.kv.BeginWrite()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sshObj, err := Load(tx, scrAddr)
	if err != nil {
		return err
	}
	if upToHeight <= sshObj.AlreadyScannedUpToBlk {
		return nil
	}
	sshObj.AlreadyScannedUpToBlk = upToHeight
	if err := tx.Put(store.TableHistory, scrAddr.Bytes(), sshObj.Encode()); err != nil {
		return err
	}
	return tx.Commit()
}
