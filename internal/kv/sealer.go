package kv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	sealKeyLen = 32  // AES-256
	sealSep    = "|" // base64(nonce)|base64(ciphertext)
)

// ErrSealed indica un valor sellado corrupto o con otra clave.
var ErrSealed = errors.New("kv: sealed value cannot be opened")

// Sealer cifra valores antes de tocar disco (AES-GCM).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer crea un Sealer a partir de una clave base64 de 32 bytes.
// Generar con: openssl rand -base64 32
func NewSealer(keyB64 string) (*Sealer, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("kv: decode seal key: %w", err)
	}
	if len(k) != sealKeyLen {
		return nil, fmt.Errorf("kv: seal key debe decodificar a %d bytes, obtuvo %d", sealKeyLen, len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal cifra plain y devuelve base64(nonce)|base64(ciphertext).
// La key se usa como additional data: un valor copiado a otra key no abre.
func (s *Sealer) Seal(key, plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, []byte(plain), []byte(key))
	return base64.StdEncoding.EncodeToString(nonce) + sealSep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open revierte Seal.
func (s *Sealer) Open(key, sealed string) (string, error) {
	nb64, cb64, ok := strings.Cut(sealed, sealSep)
	if !ok {
		return "", ErrSealed
	}
	nonce, err := base64.StdEncoding.DecodeString(nb64)
	if err != nil || len(nonce) != s.aead.NonceSize() {
		return "", ErrSealed
	}
	ct, err := base64.StdEncoding.DecodeString(cb64)
	if err != nil {
		return "", ErrSealed
	}
	pt, err := s.aead.Open(nil, nonce, ct, []byte(key))
	if err != nil {
		return "", ErrSealed
	}
	return string(pt), nil
}
