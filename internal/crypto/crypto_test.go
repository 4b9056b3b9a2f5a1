package crypto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/chartbets/chartbets/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("decrypted key = %s, want %s", got, testKeyHex)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("decrypt with wrong password succeeded")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKeyHex, ""); err == nil {
		t.Error("empty password accepted")
	}
	if _, err := EncryptKey("zz", "hunter2"); err == nil {
		t.Error("non-hex key accepted")
	}
	if _, err := EncryptKey("abcd", "hunter2"); err == nil {
		t.Error("short key accepted")
	}
}

func TestDecryptKeyRejectsTamperedEnvelope(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tamper := func(t *testing.T, field string, value any) []byte {
		t.Helper()
		var env map[string]any
		if err := json.Unmarshal(blob, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		env[field] = value
		out, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}
		return out
	}

	t.Run("foreign kind", func(t *testing.T) {
		if _, err := DecryptKey(tamper(t, "kind", "other/key"), "hunter2"); err == nil {
			t.Error("envelope with foreign kind accepted")
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		if _, err := DecryptKey(tamper(t, "version", 2), "hunter2"); err == nil {
			t.Error("envelope with unknown version accepted")
		}
	})

	t.Run("flipped ciphertext", func(t *testing.T) {
		if _, err := DecryptKey(tamper(t, "ciphertext", "00"), "hunter2"); err == nil {
			t.Error("envelope with replaced ciphertext accepted")
		}
	})
}

func TestSignAndRecoverResolution(t *testing.T) {
	signer, err := NewSigner("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	payload := ResolutionPayload{
		SongID:      "song-001",
		MarketID:    1,
		Outcome:     domain.OutcomeA,
		InitialRank: 17,
		FinalRank:   2,
		Timestamp:   1767225600,
	}

	sig, err := signer.SignResolution(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("signature %q has unexpected shape", sig)
	}

	recovered, err := RecoverResolution(payload, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	// Any field change must break recovery to the same account.
	tampered := payload
	tampered.FinalRank = 3
	recovered, err = RecoverResolution(tampered, sig)
	if err == nil && recovered == signer.Address() {
		t.Error("tampered payload still recovers to the authority")
	}
}

func TestRecoverResolutionRejectsMalformed(t *testing.T) {
	payload := ResolutionPayload{SongID: "song-001", MarketID: 1, Outcome: domain.OutcomeB}

	if _, err := RecoverResolution(payload, "0x1234"); err == nil {
		t.Error("short signature accepted")
	}
	if _, err := RecoverResolution(payload, "not-hex"); err == nil {
		t.Error("non-hex signature accepted")
	}
}
