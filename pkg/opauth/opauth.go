// Package opauth is the engine's collaborator boundary for operation
// authentication (spec §5: the dispatcher trusts that whoever calls
// Dispatch already authenticated the caller). It reconstructs that
// trust boundary with ECDSA signing/recovery and an EIP-712
// domain-separated typed-data hash, adapted from the reference
// signing package's order/cancel hashing so a trader's wallet can sign
// one envelope type covering every operation the spec exposes to
// traders directly: Place, Cancel, Withdraw, Swap, and ReleaseSeat.
// Place and Cancel reach the dispatcher inside a BatchUpdate, which
// carries the Envelope. CreateMarket, Expand, Liquidate, and
// CrankFunding are operator/crank operations and are never wrapped in
// an Envelope.
package opauth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/valleyfi/perpengine/pkg/crypto"
)

// Kind identifies which trader-facing operation an Envelope authorizes.
type Kind uint8

const (
	KindPlace Kind = iota + 1
	KindCancel
	KindWithdraw
	KindSwap
	KindReleaseSeat
)

// Domain is the EIP-712 domain separator: it pins a signature to one
// deployment of the engine so a signed envelope for one market can
// never be replayed against another.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the devnet harness's domain; production deployments
// should set VerifyingContract (or an equivalent market identity) and a
// ChainID specific to the deployment.
func DefaultDomain() Domain {
	return Domain{
		Name:              "perpengine",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// Envelope is the single signed payload shape covering every
// trader-facing operation. A trader signs one Envelope per call; unused
// fields for a given Kind are left zero. Unifying the five operations
// into one typed-data shape (rather than one EIP-712 type per op, as
// the reference order/cancel pair does) keeps the wallet-signing
// surface to a single "Operation" type traders approve once per wallet.
type Envelope struct {
	Kind    Kind
	Market  common.Hash    // market identity the operation targets
	Trader  common.Address // must match the recovered signer
	Nonce   uint64         // signed into the digest; reuse is not tracked or rejected here
	Deadline int64          // unix seconds, signed into the digest; not compared to any clock here

	// Place
	IsBid         bool
	OrderType     uint8
	PriceMantissa uint64
	PriceExponent int32
	NumBaseAtoms  uint64
	LastValidSlot uint32

	// Cancel
	OrderSequence uint64

	// Withdraw, Swap
	QuoteAtoms uint64

	// Swap
	MinOut uint64
}

var operationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Operation": []apitypes.Type{
		{Name: "kind", Type: "uint8"},
		{Name: "market", Type: "bytes32"},
		{Name: "trader", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "isBid", Type: "bool"},
		{Name: "orderType", Type: "uint8"},
		{Name: "priceMantissa", Type: "uint256"},
		{Name: "priceExponent", Type: "int32"},
		{Name: "numBaseAtoms", Type: "uint256"},
		{Name: "lastValidSlot", Type: "uint32"},
		{Name: "orderSequence", Type: "uint256"},
		{Name: "quoteAtoms", Type: "uint256"},
		{Name: "minOut", Type: "uint256"},
	},
}

// Hash computes the EIP-712 digest a trader's wallet signs for env
// under domain. It follows the reference HashOrder/HashCancel recipe:
// keccak256("\x19\x01" || domainSeparator || structHash).
func Hash(domain Domain, env Envelope) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       operationTypes,
		PrimaryType: "Operation",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":          fmt.Sprintf("%d", env.Kind),
			"market":        env.Market.Hex(),
			"trader":        env.Trader.Hex(),
			"nonce":         fmt.Sprintf("%d", env.Nonce),
			"deadline":      fmt.Sprintf("%d", env.Deadline),
			"isBid":         env.IsBid,
			"orderType":     fmt.Sprintf("%d", env.OrderType),
			"priceMantissa": fmt.Sprintf("%d", env.PriceMantissa),
			"priceExponent": fmt.Sprintf("%d", env.PriceExponent),
			"numBaseAtoms":  fmt.Sprintf("%d", env.NumBaseAtoms),
			"lastValidSlot": fmt.Sprintf("%d", env.LastValidSlot),
			"orderSequence": fmt.Sprintf("%d", env.OrderSequence),
			"quoteAtoms":    fmt.Sprintf("%d", env.QuoteAtoms),
			"minOut":        fmt.Sprintf("%d", env.MinOut),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("opauth: hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("opauth: hash operation: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return gethcrypto.Keccak256Hash(rawData).Bytes(), nil
}

// Sign hashes env under domain and signs it with signer.
func Sign(signer *crypto.Signer, domain Domain, env Envelope) ([]byte, error) {
	hash, err := Hash(domain, env)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// Verifier checks that a signature over an Envelope was produced by the
// trader it claims, so pkg/engine's dispatcher never has to touch
// ECDSA directly.
type Verifier interface {
	Verify(env Envelope, signature []byte) (common.Address, error)
}

// EIP712Verifier is the production Verifier, backed by domain.
type EIP712Verifier struct {
	domain Domain
}

func NewVerifier(domain Domain) *EIP712Verifier {
	return &EIP712Verifier{domain: domain}
}

// Verify recovers the signing address for env and reports an error if
// it does not match env.Trader.
func (v *EIP712Verifier) Verify(env Envelope, signature []byte) (common.Address, error) {
	hash, err := Hash(v.domain, env)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := crypto.RecoverAddress(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("opauth: recover signer: %w", err)
	}
	if addr != env.Trader {
		return addr, fmt.Errorf("opauth: signature is from %s, envelope claims %s", addr.Hex(), env.Trader.Hex())
	}
	return addr, nil
}

var _ Verifier = (*EIP712Verifier)(nil)
