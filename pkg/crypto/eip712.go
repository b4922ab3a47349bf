package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for signed gateway actions.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the domain used by the gateway.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "dexgate",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.Address{},
	}
}

// ActionEIP712 is the typed form of a trading action. Amounts are already
// scaled to chain integers; unused fields are zero.
type ActionEIP712 struct {
	Call      string // "eqDex.createOrder", "eqBalances.deposit", ...
	Asset     string
	Direction string
	OrderType string
	Price     *big.Int
	Amount    *big.Int
	OrderID   *big.Int
	Owner     common.Address
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "call", Type: "string"},
		{Name: "asset", Type: "string"},
		{Name: "direction", Type: "string"},
		{Name: "orderType", Type: "string"},
		{Name: "price", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "orderId", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// HashAction returns the EIP-712 digest of act under domain.
func HashAction(domain EIP712Domain, act *ActionEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"call":      act.Call,
			"asset":     act.Asset,
			"direction": act.Direction,
			"orderType": act.OrderType,
			"price":     bigOrZero(act.Price).String(),
			"amount":    bigOrZero(act.Amount).String(),
			"orderId":   bigOrZero(act.OrderID).String(),
			"owner":     act.Owner.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// ActionSigner signs actions on behalf of the gateway account. It is
// read-only after construction and safe for concurrent use.
type ActionSigner struct {
	signer *Signer
	domain EIP712Domain
}

func NewActionSigner(signer *Signer, domain EIP712Domain) *ActionSigner {
	return &ActionSigner{signer: signer, domain: domain}
}

func (a *ActionSigner) Address() common.Address {
	return a.signer.Address()
}

// Sign fills in the owner, hashes act and signs the digest.
func (a *ActionSigner) Sign(act *ActionEIP712) ([]byte, error) {
	act.Owner = a.signer.Address()
	hash, err := HashAction(a.domain, act)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	signature, err := a.signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	return signature, nil
}

// Verify reports whether signature over act was made by act.Owner.
func (a *ActionSigner) Verify(act *ActionEIP712, signature []byte) (bool, error) {
	hash, err := HashAction(a.domain, act)
	if err != nil {
		return false, fmt.Errorf("failed to hash action: %w", err)
	}
	return VerifySignature(act.Owner, hash, signature), nil
}
