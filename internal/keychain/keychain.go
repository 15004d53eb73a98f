// Package keychain provides secret storage backed by macOS Keychain.
//
// Secrets are stored as generic passwords with:
//   - Service: "com.bingal.rss-reader" (all reader secrets share this service)
//   - Account: the secret key (e.g. "translation/api-key")
//   - Label: "rss-reader: <key>" (for Keychain Access.app visibility)
//
// Secrets are scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly:
// never synced to iCloud, never available when the machine is locked.
package keychain

import "errors"

// ErrNotFound is returned when a secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// KeyTranslationAPIKey holds the LibreTranslate API key.
const KeyTranslationAPIKey = "translation/api-key"

// Store is the interface for secret storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	List() ([]string, error)
	Delete(key string) error
}
