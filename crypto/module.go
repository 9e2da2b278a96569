package crypto

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ModuleAddress derives the deterministic address identifying a ledger module.
// Restricted entry points compare the supplied caller address against the
// registered module addresses, mirroring contract-style caller checks.
func ModuleAddress(name string) Address {
	digest := ethcrypto.Keccak256([]byte("kleolend/module/" + name))
	return NewAddress(KleoPrefix, digest[12:])
}
