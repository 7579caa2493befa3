package keys

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blocto/solana-go-sdk/types"

	"github.com/hitoshi/tokenminer/internal/model"
)

// keypairJSON はsolana-keygen形式（数値配列）の鍵JSONを返す。
func keypairJSON(t *testing.T, acc types.Account) []byte {
	t.Helper()
	ints := make([]int, len(acc.PrivateKey))
	for i, b := range acc.PrivateKey {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		t.Fatalf("marshal keypair: %v", err)
	}
	return data
}

func writeKeypair(t *testing.T, dir string, role Role, acc types.Account) {
	t.Helper()
	path := filepath.Join(dir, string(role)+".json")
	if err := os.WriteFile(path, keypairJSON(t, acc), 0o600); err != nil {
		t.Fatalf("write keypair: %v", err)
	}
}

func TestDecodeKeypair_RoundTrip(t *testing.T) {
	acc := types.NewAccount()

	got, err := decodeKeypair(keypairJSON(t, acc))
	if err != nil {
		t.Fatalf("decodeKeypair returned error: %v", err)
	}
	if got.PublicKey != acc.PublicKey {
		t.Errorf("public key = %s, want %s", got.PublicKey.ToBase58(), acc.PublicKey.ToBase58())
	}
}

func TestDecodeKeypair_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `not-json`, "unmarshal"},
		{"too short", `[1,2,3]`, "unexpected keypair length"},
		{"out of range", "[" + strings.Repeat("1,", 63) + "300]", "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeKeypair([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestFileProvider_ResolvesKey(t *testing.T) {
	dir := t.TempDir()
	acc := types.NewAccount()
	writeKeypair(t, dir, RoleWallet, acc)

	got, err := NewFileProvider(dir).ResolveSigningKey(context.Background(), RoleWallet)
	if err != nil {
		t.Fatalf("ResolveSigningKey returned error: %v", err)
	}
	if got.PublicKey != acc.PublicKey {
		t.Errorf("public key mismatch")
	}
}

func TestFileProvider_MissingKey(t *testing.T) {
	_, err := NewFileProvider(t.TempDir()).ResolveSigningKey(context.Background(), RoleWallet)
	if !errors.Is(err, model.ErrKeyNotFound) {
		t.Errorf("error = %v, want ErrKeyNotFound", err)
	}
}

func TestFileProvider_MalformedKey(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "wallet.json"), []byte(`{"secret":"x"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := NewFileProvider(dir).ResolveSigningKey(context.Background(), RoleWallet)
	if err == nil || errors.Is(err, model.ErrKeyNotFound) {
		t.Errorf("error = %v, want descriptive decode error", err)
	}
}

func TestNewFileProvider_DefaultDir(t *testing.T) {
	p := NewFileProvider("")
	if got, want := p.Path(RoleWallet), filepath.Join("keypairs", "wallet.json"); got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

// countingProvider は呼び出し回数を数えるProvider。
type countingProvider struct {
	calls int
	acc   types.Account
	err   error
}

func (p *countingProvider) ResolveSigningKey(_ context.Context, _ Role) (types.Account, error) {
	p.calls++
	return p.acc, p.err
}

func TestCachedProvider_ResolvesOnce(t *testing.T) {
	inner := &countingProvider{acc: types.NewAccount()}
	p := NewCachedProvider(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.ResolveSigningKey(ctx, RoleWallet); err != nil {
			t.Fatalf("ResolveSigningKey returned error: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestCachedProvider_DoesNotCacheErrors(t *testing.T) {
	inner := &countingProvider{err: model.ErrKeyNotFound}
	p := NewCachedProvider(inner)
	ctx := context.Background()

	p.ResolveSigningKey(ctx, RoleWallet)
	p.ResolveSigningKey(ctx, RoleWallet)
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}
