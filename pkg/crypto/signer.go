package crypto

import (
	"crypto/ecdsa"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// SeedWords is the required length of a seed phrase.
const SeedWords = 12

// Signer holds the gateway account's secp256k1 key pair.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a random signer.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromSeedPhrase derives the account key from a 12-word mnemonic. The seed
// is stretched with PBKDF2-SHA512 ("mnemonic" salt, 2048 rounds) and the
// first 32 bytes become the private key.
func FromSeedPhrase(phrase string) (*Signer, error) {
	words := strings.Fields(phrase)
	if len(words) != SeedWords {
		return nil, fmt.Errorf("seed phrase has %d words, want %d", len(words), SeedWords)
	}
	normalized := strings.ToLower(strings.Join(words, " "))

	seed := pbkdf2.Key([]byte(normalized), []byte("mnemonic"), 2048, 64, sha512.New)
	privateKey, err := crypto.ToECDSA(seed[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex loads a signer from a hex-encoded private key (no 0x prefix).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs a 32-byte digest. The signature is [R || S || V], 65 bytes.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature, nil
}

// SignMessage signs keccak256(message).
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	return s.Sign(crypto.Keccak256(message))
}

// RecoverAddress returns the address that produced signature over hash.
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}

	publicKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// VerifySignature reports whether address signed hash.
func VerifySignature(address common.Address, hash []byte, signature []byte) bool {
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false
	}
	return recovered == address
}
