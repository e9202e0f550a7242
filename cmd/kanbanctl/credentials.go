package main

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const keyringService = "kanbanctl"

var ErrNoSession = errors.New("no saved session")

// Credentials stores session tokens per server URL.
type Credentials interface {
	Token(server string) (string, error)
	SaveToken(server, token string) error
	DeleteToken(server string) error
}

type keyringCredentials struct {
	ring keyring.Keyring
}

func newKeyringCredentials() (Credentials, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/kanbanctl/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("kanbanctl-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &keyringCredentials{ring: ring}, nil
}

func tokenKey(server string) string {
	return "session:" + server
}

func (k *keyringCredentials) Token(server string) (string, error) {
	item, err := k.ring.Get(tokenKey(server))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("reading session for %s: %w", server, err)
	}
	return string(item.Data), nil
}

func (k *keyringCredentials) SaveToken(server, token string) error {
	err := k.ring.Set(keyring.Item{
		Key:   tokenKey(server),
		Data:  []byte(token),
		Label: "kanbanctl session for " + server,
	})
	if err != nil {
		return fmt.Errorf("saving session for %s: %w", server, err)
	}
	return nil
}

func (k *keyringCredentials) DeleteToken(server string) error {
	err := k.ring.Remove(tokenKey(server))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting session for %s: %w", server, err)
	}
	return nil
}
