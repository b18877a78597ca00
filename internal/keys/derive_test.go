package keys

import (
	"encoding/hex"
	"testing"
)

// SLIP-0010 ed25519 test vector 1.
const slip10Seed = "000102030405060708090a0b0c0d0e0f"

func TestDeriveForPathVector(t *testing.T) {
	seed, err := hex.DecodeString(slip10Seed)
	if err != nil {
		t.Fatalf("decode seed: %v", err)
	}

	cases := []struct {
		path string
		want string
	}{
		{"m/0'", "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3"},
		{"m/0'/1'", "b1d0bad404bf35da785a64ca1ac54b2617211d2777696fbffaf208f746ae84f2"},
	}
	for _, tc := range cases {
		priv, err := DeriveForPath(seed, tc.path)
		if err != nil {
			t.Fatalf("DeriveForPath(%s): %v", tc.path, err)
		}
		if got := hex.EncodeToString(priv.Seed()); got != tc.want {
			t.Errorf("DeriveForPath(%s) = %s, want %s", tc.path, got, tc.want)
		}
	}
}

func TestDeriveForPathDeterministic(t *testing.T) {
	seed, _ := hex.DecodeString(slip10Seed)

	a, err := DeriveAccount(seed, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveAccount(seed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Error("same seed and index produced different keys")
	}

	c, err := DeriveAccount(seed, 1)
	if err != nil {
		t.Fatal(err)
	}
	if a.Equal(c) {
		t.Error("distinct indices produced the same key")
	}
}

func TestDeriveForPathRejectsNonHardened(t *testing.T) {
	seed, _ := hex.DecodeString(slip10Seed)
	if _, err := DeriveForPath(seed, "m/44'/501'/0'/0"); err == nil {
		t.Error("expected error for non-hardened segment")
	}
	if _, err := DeriveForPath(seed, "x/44'"); err == nil {
		t.Error("expected error for bad prefix")
	}
}

func TestDerivationPathRoundTrip(t *testing.T) {
	for _, index := range []uint32{0, 1, 7, 42} {
		path := DerivationPath(index)
		got, ok := ParseAccountIndex(path)
		if !ok {
			t.Fatalf("ParseAccountIndex(%q) not ok", path)
		}
		if got != index {
			t.Errorf("ParseAccountIndex(%q) = %d, want %d", path, got, index)
		}
	}
}

func TestParseAccountIndexRejectsForeignPaths(t *testing.T) {
	for _, path := range []string{
		"",
		"m/44'/0'/0'/0'",    // wrong coin type
		"m/44'/501'/0'",     // wrong shape
		"m/44'/501'/0'/0",   // non-hardened tail
		"n/44'/501'/0'/0'",  // bad prefix
		"m/49'/501'/0'/0'",  // wrong purpose
		"m/44'/501'/x'/0'",  // non-numeric index
	} {
		if _, ok := ParseAccountIndex(path); ok {
			t.Errorf("ParseAccountIndex(%q) unexpectedly ok", path)
		}
	}
}

func TestMnemonicRoundTrip(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidateMnemonic(mnemonic) {
		t.Fatalf("generated mnemonic failed validation: %q", mnemonic)
	}

	seed, err := SeedFromMnemonic(mnemonic)
	if err != nil {
		t.Fatal(err)
	}
	if len(seed) != 64 {
		t.Errorf("seed length = %d, want 64", len(seed))
	}

	if ValidateMnemonic("abandon abandon abandon") {
		t.Error("short mnemonic unexpectedly valid")
	}
}
