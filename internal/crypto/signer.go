package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/chartbets/chartbets/internal/domain"
)

// resolutionDomain is the domain tag mixed into every resolution digest so
// signatures cannot be replayed against other message types.
const resolutionDomain = "chartbets/resolution/v1"

// ResolutionPayload is the message the resolution authority signs to
// authorize finalizing a market. Timestamp is Unix seconds and lets the
// server reject stale requests.
type ResolutionPayload struct {
	SongID      string         `json:"song_id"`
	MarketID    uint64         `json:"market_id"`
	Outcome     domain.Outcome `json:"outcome"`
	InitialRank int            `json:"initial_rank"`
	FinalRank   int            `json:"final_rank"`
	Timestamp   int64          `json:"timestamp"`
}

// ResolutionDigest computes the 32-byte keccak256 digest of a resolution
// payload. The encoding is a newline-joined canonical string; every field
// participates so no two distinct payloads share a digest.
func ResolutionDigest(p ResolutionPayload) []byte {
	msg := fmt.Sprintf("%s\n%s\n%d\n%s\n%d\n%d\n%d",
		resolutionDomain, p.SongID, p.MarketID, p.Outcome, p.InitialRank, p.FinalRank, p.Timestamp)
	return ethcrypto.Keccak256([]byte(msg))
}

// Signer signs resolution payloads with the authority's secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the account derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignResolution signs the resolution payload and returns a hex-encoded
// 65-byte signature (r || s || v).
func (s *Signer) SignResolution(p ResolutionPayload) (string, error) {
	sig, err := ethcrypto.Sign(ResolutionDigest(p), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing resolution: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverResolution recovers the signing account from a resolution payload
// and its hex-encoded signature. Callers must compare the result against the
// expected authority account.
func RecoverResolution(p ResolutionPayload, sigHex string) (common.Address, error) {
	sigHex = strings.TrimPrefix(sigHex, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(sig))
	}

	// Accept both v in {0,1} and the Ethereum-style {27,28}.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(ResolutionDigest(p), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
