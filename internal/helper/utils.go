package helper

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

// GenerateAPIKey returns a random key with the given prefix
func GenerateAPIKey(prefix string) (string, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsUUID reports whether s parses as a UUID
func IsUUID(s string) bool {
	return uuid.Validate(s) == nil
}

// CreateFolder creates dir and its parents if missing
func CreateFolder(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// PrettyPrint writes v as indented JSON to stdout
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}
