package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/igwedaniel/walletsync/internal/types"
)

// errUnparseableScript marks a script the tokenizer rejects
var errUnparseableScript = errors.New("unparseable script")

func (h *Handle) IsRelevant(ctx context.Context, tx *types.ObservedTransaction) (types.Relevance, error) {
	relevant := false
	for index, out := range tx.Tx.TxOut {
		mine, err := h.paysWallet(ctx, out.PkScript)
		if errors.Is(err, errUnparseableScript) {
			h.logger.WithField("tx_hash", tx.Hash().String()).
				Debugf("Cannot interpret script of output %d", index)
			return types.Unparseable, nil
		}
		if err != nil {
			return types.NotRelevant, err
		}
		relevant = relevant || mine
	}
	if relevant {
		return types.Relevant, nil
	}

	for _, in := range tx.Tx.TxIn {
		_, owned, err := h.storage.GetWalletOutput(ctx, h.id, in.PreviousOutPoint.String())
		if err != nil {
			return types.NotRelevant, fmt.Errorf("failed to read wallet output: %w", err)
		}
		if owned {
			return types.Relevant, nil
		}
	}
	return types.NotRelevant, nil
}

// paysWallet reports whether pkScript pays one of the watched addresses
func (h *Handle) paysWallet(ctx context.Context, pkScript []byte) (bool, error) {
	if err := checkScript(pkScript); err != nil {
		return false, err
	}

	_, addresses, _, err := txscript.ExtractPkScriptAddrs(pkScript, h.params)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errUnparseableScript, err)
	}
	for _, address := range addresses {
		watched, err := h.storage.IsWatchedAddress(ctx, h.id, address.EncodeAddress())
		if err != nil {
			return false, fmt.Errorf("failed to check watched address: %w", err)
		}
		if watched {
			return true, nil
		}
	}
	return false, nil
}

// checkScript walks every opcode so truncated pushes are caught
func checkScript(script []byte) error {
	const scriptVersion = 0
	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, script)
	for tokenizer.Next() {
	}
	if err := tokenizer.Err(); err != nil {
		return fmt.Errorf("%w: %v", errUnparseableScript, err)
	}
	return nil
}
