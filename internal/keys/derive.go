package keys

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Derivation path constants. Full path: m/44'/501'/account'/0', every
// segment hardened per SLIP-0010 ed25519.
const (
	// PurposeBIP44 is the BIP-44 purpose field.
	PurposeBIP44 = 44

	// CoinTypeSolana is the registered SLIP-44 coin type for Solana.
	CoinTypeSolana = 501

	hardenedOffset = 0x80000000
)

var ed25519SeedKey = []byte("ed25519 seed")

// DerivationPath returns the canonical account path for an index,
// e.g. DerivationPath(0) = "m/44'/501'/0'/0'".
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/%d'/%d'/0'", CoinTypeSolana, index)
}

// ParseAccountIndex extracts the account segment from a canonical path.
// Returns false for paths with a different shape or coin type.
func ParseAccountIndex(path string) (uint32, bool) {
	segs := strings.Split(path, "/")
	if len(segs) != 5 || segs[0] != "m" {
		return 0, false
	}
	for _, s := range segs[1:] {
		if !strings.HasSuffix(s, "'") {
			return 0, false
		}
	}
	if segs[1] != "44'" || segs[2] != strconv.Itoa(CoinTypeSolana)+"'" {
		return 0, false
	}
	idx, err := strconv.ParseUint(strings.TrimSuffix(segs[3], "'"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(idx), true
}

// DeriveForPath derives the ed25519 private key at the given hardened path
// from a BIP-39 seed, per SLIP-0010. Caller should zero the returned key
// after use.
func DeriveForPath(seed []byte, path string) (ed25519.PrivateKey, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	key, chainCode := masterKey(seed)
	defer clear(chainCode)
	for _, idx := range indices {
		nextKey, nextChain := childKey(key, chainCode, idx)
		clear(key)
		clear(chainCode)
		key, chainCode = nextKey, nextChain
	}

	priv := ed25519.NewKeyFromSeed(key)
	clear(key)
	return priv, nil
}

// DeriveAccount derives the signing key at m/44'/501'/index'/0'.
func DeriveAccount(seed []byte, index uint32) (ed25519.PrivateKey, error) {
	return DeriveForPath(seed, DerivationPath(index))
}

// PublicKeyForPath derives only the base58 public key at the given path.
func PublicKeyForPath(seed []byte, path string) (solana.PublicKey, error) {
	priv, err := DeriveForPath(seed, path)
	if err != nil {
		return solana.PublicKey{}, err
	}
	defer clear(priv)
	return solana.PublicKeyFromBytes(priv.Public().(ed25519.PublicKey)), nil
}

// masterKey computes the SLIP-0010 ed25519 master key and chain code.
func masterKey(seed []byte) (key, chainCode []byte) {
	mac := hmac.New(sha512.New, ed25519SeedKey)
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// childKey computes the hardened child at index. ed25519 only supports
// hardened derivation, so the offset is applied unconditionally.
func childKey(key, chainCode []byte, index uint32) (childK, childC []byte) {
	data := make([]byte, 0, 1+32+4)
	data = append(data, 0x00)
	data = append(data, key...)
	data = binary.BigEndian.AppendUint32(data, index|hardenedOffset)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	clear(data)
	return sum[:32], sum[32:]
}

// parsePath converts "m/44'/501'/0'/0'" into its segment indices. Every
// segment must be hardened.
func parsePath(path string) ([]uint32, error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || segs[0] != "m" {
		return nil, fmt.Errorf("invalid derivation path %q", path)
	}
	indices := make([]uint32, 0, len(segs)-1)
	for _, s := range segs[1:] {
		if !strings.HasSuffix(s, "'") {
			return nil, fmt.Errorf("derivation path %q has non-hardened segment %q", path, s)
		}
		idx, err := strconv.ParseUint(strings.TrimSuffix(s, "'"), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path segment %q: %w", s, err)
		}
		indices = append(indices, uint32(idx))
	}
	return indices, nil
}
