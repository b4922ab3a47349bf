package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

const testSeed = "bottom drive obey lake curtain smoke basket hold race lonely fit walk"

func TestFromSeedPhraseDeterministic(t *testing.T) {
	a, err := FromSeedPhrase(testSeed)
	if err != nil {
		t.Fatalf("FromSeedPhrase() error = %v", err)
	}
	// Extra whitespace and case do not change the derived account.
	b, err := FromSeedPhrase("  Bottom drive obey lake curtain smoke basket hold race lonely fit   walk\n")
	if err != nil {
		t.Fatalf("FromSeedPhrase() error = %v", err)
	}

	if a.Address() != b.Address() {
		t.Errorf("address = %s, want %s", b.Address().Hex(), a.Address().Hex())
	}
	if a.Address() == (common.Address{}) {
		t.Error("derived zero address")
	}
}

func TestFromSeedPhraseWordCount(t *testing.T) {
	tests := []struct {
		name   string
		phrase string
	}{
		{name: "empty", phrase: ""},
		{name: "eleven words", phrase: "bottom drive obey lake curtain smoke basket hold race lonely fit"},
		{name: "thirteen words", phrase: testSeed + " extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromSeedPhrase(tt.phrase); err == nil {
				t.Error("FromSeedPhrase() error = nil, want word count error")
			}
		})
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	s1, _ := GenerateKey()
	hexKey := common.Bytes2Hex(eth_crypto.FromECDSA(s1.privateKey))

	for _, in := range []string{hexKey, "0x" + hexKey} {
		s2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("FromPrivateKeyHex(%q) error = %v", in[:4], err)
		}
		if s2.Address() != s1.Address() {
			t.Errorf("address = %s, want %s", s2.Address().Hex(), s1.Address().Hex())
		}
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()

	message := []byte("deposit 1 ETH")
	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}

	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("RecoverAddress() error = %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestSignRejectsBadHash(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("Sign(short) error = nil, want error")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, 65)) {
		t.Error("invalid hash should not verify")
	}
	if VerifySignature(signer.Address(), make([]byte, 32), []byte{1, 2, 3}) {
		t.Error("invalid signature should not verify")
	}
}

func TestActionSignerRoundTrip(t *testing.T) {
	signer, err := FromSeedPhrase(testSeed)
	if err != nil {
		t.Fatalf("FromSeedPhrase() error = %v", err)
	}
	as := NewActionSigner(signer, DefaultDomain())

	act := &ActionEIP712{
		Call:      "eqDex.createOrder",
		Asset:     "ETH",
		Direction: "Buy",
		OrderType: "Limit",
		Price:     big.NewInt(1_850_000_000_000),
		Amount:    big.NewInt(250_000_000_000_000_000),
	}
	sig, err := as.Sign(act)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if act.Owner != as.Address() {
		t.Errorf("owner = %s, want signer address", act.Owner.Hex())
	}

	ok, err := as.Verify(act, sig)
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v, want true", ok, err)
	}

	tampered := *act
	tampered.Amount = big.NewInt(1)
	if ok, _ := as.Verify(&tampered, sig); ok {
		t.Error("Verify() = true for tampered amount")
	}
}

func TestHashActionDomainSeparation(t *testing.T) {
	act := &ActionEIP712{Call: "eqBalances.deposit", Asset: "WBTC", Amount: big.NewInt(5)}

	d1 := DefaultDomain()
	d2 := DefaultDomain()
	d2.ChainID = big.NewInt(2)

	h1, err := HashAction(d1, act)
	if err != nil {
		t.Fatalf("HashAction() error = %v", err)
	}
	h2, err := HashAction(d2, act)
	if err != nil {
		t.Fatalf("HashAction() error = %v", err)
	}
	if len(h1) != 32 {
		t.Errorf("digest length = %d, want 32", len(h1))
	}
	if string(h1) == string(h2) {
		t.Error("digests equal across chain ids")
	}
}
