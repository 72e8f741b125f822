package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/stepgraph/internal/secrets"
)

const saltSize = 16

// openVault returns the secret vault, or nil when STEPGRAPH_VAULT_KEY is unset.
func openVault(st secrets.SecretStore) (*secrets.AESVault, error) {
	pass := os.Getenv("STEPGRAPH_VAULT_KEY")
	if pass == "" {
		return nil, nil
	}
	salt, err := loadSalt(filepath.Join(stepgraphDir(), "vault.salt"))
	if err != nil {
		return nil, err
	}
	return secrets.NewAESVault(st, secrets.VaultConfig{Passphrase: pass, Salt: salt})
}

// loadSalt reads the vault salt, creating it on first use.
func loadSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("vault salt %s is corrupt", path)
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	return salt, nil
}

const secretUsage = `Usage:
  stepgraph secret set <NAME> [value]   store a secret (value read from stdin when omitted)
  stepgraph secret list                 list secret names
  stepgraph secret delete <NAME>        remove a secret

Secrets are encrypted with STEPGRAPH_VAULT_KEY and referenced from watch
headers as ${{secrets.NAME}}.
`

func runSecret(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, secretUsage)
		return 2
	}

	cfg := loadConfig()
	ctx := context.Background()
	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	vault, err := openVault(st)
	if err != nil {
		return fail(err)
	}
	if vault == nil {
		return fail(errors.New("STEPGRAPH_VAULT_KEY is not set"))
	}

	switch sub, rest := args[0], args[1:]; {
	case sub == "set" && (len(rest) == 1 || len(rest) == 2):
		value := ""
		if len(rest) == 2 {
			value = rest[1]
		} else {
			value, err = readSecretValue(os.Stdin)
			if err != nil {
				return fail(err)
			}
		}
		if err := vault.Store(ctx, rest[0], []byte(value)); err != nil {
			return fail(err)
		}
		fmt.Printf("secret %s stored\n", rest[0])

	case sub == "list" && len(rest) == 0:
		keys, err := vault.List(ctx)
		if err != nil {
			return fail(err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}

	case sub == "delete" && len(rest) == 1:
		if err := vault.Delete(ctx, rest[0]); err != nil {
			return fail(err)
		}
		fmt.Printf("secret %s deleted\n", rest[0])

	default:
		fmt.Fprint(os.Stderr, secretUsage)
		return 2
	}
	return 0
}

// readSecretValue reads the first line of r without its line ending.
func readSecretValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty secret value")
	}
	return line, nil
}
