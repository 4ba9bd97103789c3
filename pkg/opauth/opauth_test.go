package opauth

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/crypto"
)

func testEnvelope(trader common.Address) Envelope {
	return Envelope{
		Kind:          KindPlace,
		Market:        common.HexToHash("0x1"),
		Trader:        trader,
		Nonce:         1,
		Deadline:      0,
		IsBid:         true,
		OrderType:     0,
		PriceMantissa: 100,
		PriceExponent: -2,
		NumBaseAtoms:  10,
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	domain := DefaultDomain()
	env := testEnvelope(signer.Address())

	sig, err := Sign(signer, domain, env)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier(domain)
	addr, err := verifier.Verify(env, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if addr != signer.Address() {
		t.Fatalf("Verify recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	impostor, _ := crypto.GenerateKey()
	domain := DefaultDomain()

	// env claims to be from impostor but is actually signed by signer.
	env := testEnvelope(impostor.Address())
	sig, err := Sign(signer, domain, env)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier(domain)
	if _, err := verifier.Verify(env, sig); err == nil {
		t.Fatalf("Verify succeeded for a signature from a different key than env.Trader claims")
	}
}

func TestVerifyRejectsWrongDomain(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	domainA := DefaultDomain()
	domainB := DefaultDomain()
	domainB.Name = "other-deployment"

	env := testEnvelope(signer.Address())
	sig, err := Sign(signer, domainA, env)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier(domainB)
	addr, err := verifier.Verify(env, sig)
	if err == nil {
		t.Fatalf("Verify under the wrong domain unexpectedly succeeded for %s", addr.Hex())
	}
}

func TestVerifyRejectsTamperedEnvelope(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	domain := DefaultDomain()
	env := testEnvelope(signer.Address())

	sig, err := Sign(signer, domain, env)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := env
	tampered.NumBaseAtoms = env.NumBaseAtoms + 1

	verifier := NewVerifier(domain)
	if _, err := verifier.Verify(tampered, sig); err == nil {
		t.Fatalf("Verify succeeded after the envelope's signed field changed")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	domain := DefaultDomain()
	env := testEnvelope(common.HexToAddress("0x1"))

	h1, err := Hash(domain, env)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(domain, env)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if string(h1) != string(h2) {
		t.Fatalf("Hash is not deterministic for identical input")
	}
}
