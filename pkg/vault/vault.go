// Package vault defines the engine's collaborator boundary with token
// transfers (spec §5: "an escape to the token-transfer collaborator").
// The core never moves tokens itself; it calls TokenVault at three
// points (deposit, withdraw, and a Swap's long entry) and trusts the
// result. A Swap's taker fee moves from seat margin to the insurance
// fund inside the buffer, without a vault call.
package vault

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenVault moves quote-asset atoms between a trader's external wallet
// and the market's vault account.
type TokenVault interface {
	// TransferIn moves amount atoms from trader's wallet into the vault.
	TransferIn(trader common.Hash, amount uint64) error
	// TransferOut moves amount atoms from the vault to trader's wallet.
	TransferOut(trader common.Hash, amount uint64) error
}

// MemVault is an in-memory TokenVault for tests and the devnet harness:
// it tracks per-trader external balances and never actually forwards
// anywhere, but it does enforce that a trader cannot transfer in more
// than their tracked wallet balance, catching the same class of bugs a
// real token program would reject.
type MemVault struct {
	mu      sync.Mutex
	wallets map[common.Hash]uint64
}

func NewMemVault() *MemVault {
	return &MemVault{wallets: make(map[common.Hash]uint64)}
}

// Fund credits a trader's external wallet, simulating an off-chain
// top-up (faucet, bridge) so tests can exercise Deposit/Swap.
func (v *MemVault) Fund(trader common.Hash, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallets[trader] += amount
}

func (v *MemVault) WalletBalance(trader common.Hash) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallets[trader]
}

func (v *MemVault) TransferIn(trader common.Hash, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.wallets[trader] < amount {
		return fmt.Errorf("vault: insufficient wallet balance: have %d, need %d", v.wallets[trader], amount)
	}
	v.wallets[trader] -= amount
	return nil
}

func (v *MemVault) TransferOut(trader common.Hash, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallets[trader] += amount
	return nil
}

var _ TokenVault = (*MemVault)(nil)
