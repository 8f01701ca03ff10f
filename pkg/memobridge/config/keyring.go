package config

// Keyring-backed secret storage. Priority for resolving the API secret:
//  1. OS keyring (Linux: Secret Service, macOS: Keychain, Windows: Credential Manager)
//  2. MEMOBRIDGE_API_SECRET environment variable (or .env via godotenv)
//  3. bcrypt hash already present in config.yaml (verification only)

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyringService   = "memobridge"
	keyringAPISecret = "api_secret"

	// EnvAPISecret overrides the keyring when set.
	EnvAPISecret = "MEMOBRIDGE_API_SECRET"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, "" if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks whether the OS keyring is usable at all.
func KeyringAvailable() bool {
	testKey := "__memobridge_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// StoreAPISecret hashes the secret into the config and keeps the raw value in
// the OS keyring when available.
func StoreAPISecret(cfg *Config, secret string, logger *slog.Logger) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	cfg.Server.APISecretHash = string(hash)
	if KeyringAvailable() {
		if err := StoreKeyring(keyringAPISecret, secret); err != nil {
			logger.Warn("keyring store failed, secret only recoverable from your records", "error", err)
		}
	}
	return nil
}

// ResolveAPISecretHash makes sure the config carries a verifiable hash,
// deriving one from the keyring or environment when the file has none.
// Returns false when no secret source is available at all.
func ResolveAPISecretHash(cfg *Config, logger *slog.Logger) bool {
	if cfg.Server.APISecretHash != "" {
		return true
	}
	secret := GetKeyring(keyringAPISecret)
	if secret == "" {
		secret = os.Getenv(EnvAPISecret)
	}
	if secret == "" {
		logger.Warn("no API secret configured, run setup or set " + EnvAPISecret)
		return false
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("api secret hash failed", "error", err)
		return false
	}
	cfg.Server.APISecretHash = string(hash)
	logger.Debug("API secret resolved", "source", "keyring/env")
	return true
}

// VerifyAPISecret checks a presented bearer token against the stored hash.
func VerifyAPISecret(cfg *Config, presented string) bool {
	if cfg.Server.APISecretHash == "" || presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(cfg.Server.APISecretHash), []byte(presented)) == nil
}
