// Package secrets разрешает ссылки на секреты из шаблонов.
//
// Поддерживаемые формы:
//
//	vault:<path>#<key>  — ключ из Vault KV v2 (mount из конфигурации)
//	env:<NAME>          — переменная окружения сервера
//	base64:<data>       — явное base64
//	<value>             — base64, если декодируется, иначе значение как есть
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/vault-client-go"
)

// Ошибки разрешения секретов.
var (
	// ErrInvalidReference — ссылка не соответствует формату.
	ErrInvalidReference = errors.New("invalid secret reference")

	// ErrVaultNotConfigured — ссылка на Vault, но Vault не настроен.
	ErrVaultNotConfigured = errors.New("vault is not configured")

	// ErrSecretNotFound — секрет или ключ не найден.
	ErrSecretNotFound = errors.New("secret not found")
)

const defaultMount = "secret"

// KVReader читает секрет KV v2.
type KVReader interface {
	ReadKV(ctx context.Context, mount, path string) (map[string]any, error)
}

// vaultKV — KVReader поверх vault-client-go.
type vaultKV struct {
	client *vault.Client
}

func (v *vaultKV) ReadKV(ctx context.Context, mount, path string) (map[string]any, error) {
	secret, err := v.client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(mount))
	if err != nil {
		if vault.IsErrorStatus(err, 404) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSecretNotFound, mount, path)
		}
		return nil, fmt.Errorf("vault read %s/%s: %w", mount, path, err)
	}
	return secret.Data.Data, nil
}

// Config — конфигурация Resolver.
type Config struct {
	// VaultAddress — адрес Vault. Пустой — vault-ссылки недоступны.
	VaultAddress string

	// VaultToken — токен Vault.
	VaultToken string

	// VaultMount — mount KV v2 (default: "secret").
	VaultMount string

	// KV — готовый KVReader (заменяет Vault, используется в тестах).
	KV KVReader

	Logger *slog.Logger
}

// Resolver разрешает ссылки на секреты.
type Resolver struct {
	kv     KVReader
	mount  string
	logger *slog.Logger
}

// New создаёт Resolver. Клиент Vault создаётся только при заданном адресе.
func New(cfg Config) (*Resolver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mount := cfg.VaultMount
	if mount == "" {
		mount = defaultMount
	}

	kv := cfg.KV
	if kv == nil && cfg.VaultAddress != "" {
		client, err := vault.New(
			vault.WithAddress(cfg.VaultAddress),
			vault.WithRequestTimeout(30*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("create vault client: %w", err)
		}
		if cfg.VaultToken != "" {
			if err := client.SetToken(cfg.VaultToken); err != nil {
				return nil, fmt.Errorf("set vault token: %w", err)
			}
		}
		kv = &vaultKV{client: client}
	}

	return &Resolver{kv: kv, mount: mount, logger: logger}, nil
}

// Resolve возвращает значение секрета по ссылке.
// Пустая ссылка даёт пустое значение.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "vault:"):
		return r.resolveVault(ctx, strings.TrimPrefix(ref, "vault:"))
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%w: env %s", ErrSecretNotFound, name)
		}
		return value, nil
	case strings.HasPrefix(ref, "base64:"):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ref, "base64:"))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		return string(decoded), nil
	default:
		return decodeLegacy(ref), nil
	}
}

func (r *Resolver) resolveVault(ctx context.Context, ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("%w: vault reference must be vault:<path>#<key>", ErrInvalidReference)
	}
	if r.kv == nil {
		return "", ErrVaultNotConfigured
	}

	data, err := r.kv.ReadKV(ctx, r.mount, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s in %s", ErrSecretNotFound, key, path)
	}

	r.logger.Debug("secret resolved from vault", "path", path, "key", key)
	return fmt.Sprint(value), nil
}

// decodeLegacy: пароль в шаблоне мог быть закодирован в base64.
// Если декодирование не удалось или дало не-текст, значение берётся как есть.
func decodeLegacy(value string) string {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil || !utf8.Valid(decoded) {
		return value
	}
	return string(decoded)
}

// Mask скрывает секрет для логов.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	return "******"
}
