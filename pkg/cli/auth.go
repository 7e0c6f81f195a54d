package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/urfave/cli/v2"
	"github.com/zalando/go-keyring"
)

const (
	tokenFileName  = "indexer_token"
	keyringService = "defiscore"
	keyringUser    = "indexer_token"
)

var (
	tokenFlag = &cli.StringFlag{
		Name:  "token",
		Usage: "Indexer API token to store",
	}

	deleteTokenFlag = &cli.BoolFlag{
		Name:  "delete",
		Usage: "Delete the stored indexer API token",
	}

	authCmd = &cli.Command{
		Name:            "auth",
		HideHelpCommand: true,
		Usage:           "Store the indexer API token used by import --url",
		Action:          cmdAuth,
		Flags: []cli.Flag{
			tokenFlag,
			deleteTokenFlag,
		},
	}
)

func cmdAuth(c *cli.Context) error {
	if c.Bool(deleteTokenFlag.Name) {
		return deleteIndexerToken()
	}

	token := c.String(tokenFlag.Name)
	if token == "" {
		return cli.ShowSubcommandHelp(c)
	}

	if err := saveIndexerToken(token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}

	fmt.Println("Token saved to OS keychain")
	return nil
}

func saveIndexerToken(token string) error {
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		return saveIndexerTokenFile(token)
	}

	// Clean up legacy file if it exists
	legacyPath := path.Join(getHomeDir(), tokenFileName)
	os.Remove(legacyPath)

	return nil
}

// getIndexerToken returns the stored token, or empty when none is
// configured. Anonymous imports are valid, so a missing token is not an
// error.
func getIndexerToken() string {
	// Try keychain first
	token, err := keyring.Get(keyringService, keyringUser)
	if err == nil && token != "" {
		return token
	}

	// Fall back to file
	token, err = getIndexerTokenFile()
	if err != nil {
		return ""
	}

	// Migrate to keychain
	if migrateErr := keyring.Set(keyringService, keyringUser, token); migrateErr == nil {
		slog.Info("migrated token from file to OS keychain")
		legacyPath := path.Join(getHomeDir(), tokenFileName)
		os.Remove(legacyPath)
	}

	return token
}

func deleteIndexerToken() error {
	if err := keyring.Delete(keyringService, keyringUser); err != nil {
		slog.Debug("keychain delete failed", "error", err)
	}

	tokenPath := path.Join(getHomeDir(), tokenFileName)
	if err := os.Remove(tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting token file %s: %w", tokenPath, err)
	}

	fmt.Println("Token deleted")
	return nil
}

func saveIndexerTokenFile(token string) error {
	tokenPath := path.Join(getHomeDir(), tokenFileName)
	return os.WriteFile(tokenPath, []byte(token), 0600)
}

func getIndexerTokenFile() (string, error) {
	tokenPath := path.Join(getHomeDir(), tokenFileName)
	b, err := os.ReadFile(tokenPath)
	if err != nil {
		return "", fmt.Errorf("reading token file %s: %w", tokenPath, err)
	}
	return string(b), nil
}
