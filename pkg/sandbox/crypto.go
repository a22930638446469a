package sandbox

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"math/big"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// Verification error codes returned by the *_verify/*_recover host calls in
// place of raising an error: the guest decides how to react, matching
// §4.5's "return 0 on success or a numeric error code" contract.
const (
	CodeOK                  = 0
	CodeRecoveryFailed      = 1
	CodeInvalidInputLength  = 2
	CodeVerificationFailed  = 3
	CodeBatchLengthMismatch = 4
)

// Secp256k1Verify verifies an ECDSA signature over msgHash against pk using
// the secp256k1 curve.
func (s *Sandbox) Secp256k1Verify(msgHash, sig, pk []byte) (int, error) {
	if err := s.meter.Consume(s.costs.Secp256k1Verify, "secp256k1_verify"); err != nil {
		return 0, err
	}
	if len(sig) != 64 {
		return CodeInvalidInputLength, nil
	}
	if gethcrypto.VerifySignature(pk, msgHash, sig) {
		return CodeOK, nil
	}
	return CodeVerificationFailed, nil
}

// Secp256r1Verify verifies an ECDSA signature over msgHash against pk using
// the NIST P-256 curve.
func (s *Sandbox) Secp256r1Verify(msgHash, sig, pk []byte) (int, error) {
	if err := s.meter.Consume(s.costs.Secp256r1Verify, "secp256r1_verify"); err != nil {
		return 0, err
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pk)
	if x == nil {
		x, y = elliptic.Unmarshal(elliptic.P256(), pk)
	}
	if x == nil {
		return CodeInvalidInputLength, nil
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	r, ss, ok := splitFixedSignature(sig)
	if !ok {
		return CodeInvalidInputLength, nil
	}
	if ecdsa.Verify(pub, msgHash, r, ss) {
		return CodeOK, nil
	}
	return CodeVerificationFailed, nil
}

// Ed25519Verify verifies an Ed25519 signature.
func (s *Sandbox) Ed25519Verify(msgHash, sig, pk []byte) (int, error) {
	if err := s.meter.Consume(s.costs.Ed25519Verify, "ed25519_verify"); err != nil {
		return 0, err
	}
	if len(pk) != ed25519.PublicKeySize {
		return CodeInvalidInputLength, nil
	}
	if ed25519.Verify(pk, msgHash, sig) {
		return CodeOK, nil
	}
	return CodeVerificationFailed, nil
}

// Ed25519BatchVerify verifies a batch of independent (message, signature,
// public key) triples. The standard library has no batch-optimized check,
// so this verifies each pair individually and fails on the first mismatch.
func (s *Sandbox) Ed25519BatchVerify(msgs, sigs, pks [][]byte) (int, error) {
	if len(msgs) != len(sigs) || len(sigs) != len(pks) {
		return CodeBatchLengthMismatch, nil
	}
	if err := s.meter.Consume(s.costs.Ed25519BatchBase.Cost(len(msgs)), "ed25519_batch_verify"); err != nil {
		return 0, err
	}
	for i := range msgs {
		if len(pks[i]) != ed25519.PublicKeySize {
			return CodeInvalidInputLength, nil
		}
		if !ed25519.Verify(pks[i], msgs[i], sigs[i]) {
			return CodeVerificationFailed, nil
		}
	}
	return CodeOK, nil
}

// Secp256k1PubkeyRecover recovers the public key from an ECDSA signature
// over msgHash, returning the packed (error_code, key) result.
func (s *Sandbox) Secp256k1PubkeyRecover(msgHash, sig []byte, recoveryID byte, compressed bool) (pubkey []byte, code int, err error) {
	if err := s.meter.Consume(s.costs.PubkeyRecover, "secp256k1_pubkey_recover"); err != nil {
		return nil, 0, err
	}
	if len(sig) != 64 {
		return nil, CodeInvalidInputLength, nil
	}
	full := append(append([]byte{}, sig...), recoveryID)
	pub, recoverErr := gethcrypto.SigToPub(msgHash, full)
	if recoverErr != nil {
		return nil, CodeRecoveryFailed, nil
	}
	if compressed {
		return gethcrypto.CompressPubkey(pub), CodeOK, nil
	}
	return gethcrypto.FromECDSAPub(pub), CodeOK, nil
}

// splitFixedSignature splits a 64-byte fixed-size (r||s) ECDSA signature.
func splitFixedSignature(sig []byte) (r, s *big.Int, ok bool) {
	if len(sig) != 64 {
		return nil, nil, false
	}
	return new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:]), true
}

// Sha2_256 hashes data with SHA-256.
func (s *Sandbox) Sha2_256(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Sha2_256.Cost(len(data)), "sha2_256"); err != nil {
		return nil, err
	}
	h := sha256.Sum256(data)
	return h[:], nil
}

// Sha2_512 hashes data with SHA-512.
func (s *Sandbox) Sha2_512(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Sha2_512.Cost(len(data)), "sha2_512"); err != nil {
		return nil, err
	}
	h := sha512.Sum512(data)
	return h[:], nil
}

// Sha2_512Truncated hashes data with SHA-512/256.
func (s *Sandbox) Sha2_512Truncated(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Sha2_512.Cost(len(data)), "sha2_512_truncated"); err != nil {
		return nil, err
	}
	h := sha512.Sum512_256(data)
	return h[:], nil
}

// Sha3_256 hashes data with SHA3-256.
func (s *Sandbox) Sha3_256(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Sha3_256.Cost(len(data)), "sha3_256"); err != nil {
		return nil, err
	}
	h := sha3.Sum256(data)
	return h[:], nil
}

// Sha3_512 hashes data with SHA3-512.
func (s *Sandbox) Sha3_512(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Sha3_512.Cost(len(data)), "sha3_512"); err != nil {
		return nil, err
	}
	h := sha3.Sum512(data)
	return h[:], nil
}

// Sha3_512Truncated returns the first 32 bytes of SHA3-512.
func (s *Sandbox) Sha3_512Truncated(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Sha3_512.Cost(len(data)), "sha3_512_truncated"); err != nil {
		return nil, err
	}
	h := sha3.Sum512(data)
	return h[:32], nil
}

// Keccak256 hashes data with Ethereum's Keccak-256.
func (s *Sandbox) Keccak256(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Keccak256.Cost(len(data)), "keccak256"); err != nil {
		return nil, err
	}
	return gethcrypto.Keccak256(data), nil
}

// Blake2s256 hashes data with BLAKE2s-256.
func (s *Sandbox) Blake2s256(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Blake2s256.Cost(len(data)), "blake2s_256"); err != nil {
		return nil, err
	}
	h := blake2s.Sum256(data)
	return h[:], nil
}

// Blake2b512 hashes data with BLAKE2b-512.
func (s *Sandbox) Blake2b512(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Blake2b512.Cost(len(data)), "blake2b_512"); err != nil {
		return nil, err
	}
	h := blake2b.Sum512(data)
	return h[:], nil
}

// Blake3 hashes data with BLAKE3 (32-byte output).
func (s *Sandbox) Blake3(data []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.Blake3.Cost(len(data)), "blake3"); err != nil {
		return nil, err
	}
	h := blake3.Sum256(data)
	return h[:], nil
}
