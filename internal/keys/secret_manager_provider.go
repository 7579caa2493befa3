package keys

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hitoshi/tokenminer/internal/model"
)

// secretAccessor はSecret Managerクライアントのうち本パッケージが使う操作。
type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// SecretManagerProvider はGoogle Cloud Secret Managerから鍵を読み込むProvider。
// シークレットの中身はsolana-keygen形式のJSON配列。
type SecretManagerProvider struct {
	client  secretAccessor
	secrets map[Role]string
}

// NewSecretManagerProvider はSecret Managerクライアントを生成してProviderを返す。
// secretsには用途ごとのシークレットバージョン名
// （projects/<PROJECT>/secrets/<SECRET>/versions/latest）を指定する。
func NewSecretManagerProvider(ctx context.Context, secrets map[Role]string) (*SecretManagerProvider, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secretmanager.NewClient: %w", err)
	}
	return newSecretManagerProvider(client, secrets), nil
}

func newSecretManagerProvider(client secretAccessor, secrets map[Role]string) *SecretManagerProvider {
	return &SecretManagerProvider{client: client, secrets: secrets}
}

// ResolveSigningKey はroleに対応するシークレットを取得して署名鍵を返す。
func (p *SecretManagerProvider) ResolveSigningKey(ctx context.Context, role Role) (types.Account, error) {
	name, ok := p.secrets[role]
	if !ok || name == "" {
		return types.Account{}, fmt.Errorf("%w: no secret configured for role %s", model.ErrKeyNotFound, role)
	}

	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if status.Code(err) == codes.NotFound {
		return types.Account{}, fmt.Errorf("%w: secret %s", model.ErrKeyNotFound, name)
	}
	if err != nil {
		return types.Account{}, fmt.Errorf("AccessSecretVersion %s: %w", name, err)
	}

	acc, err := decodeKeypair(resp.GetPayload().GetData())
	if err != nil {
		return types.Account{}, fmt.Errorf("secret %s: %w", name, err)
	}
	return acc, nil
}

// Close はSecret Managerクライアントを閉じる。
func (p *SecretManagerProvider) Close() error {
	return p.client.Close()
}

// compile-time interface check
var _ Provider = (*SecretManagerProvider)(nil)
