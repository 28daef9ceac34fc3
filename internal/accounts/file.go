package accounts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileProvider loads accounts from a YAML credential file.
//
// File format:
//
//	accounts:
//	  - id: personal
//	    login: octocat
//	    refresh_credential: gho_xxx
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider reading the given credential file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// ListAccounts reads and validates the credential file. Disabled entries are
// filtered out.
func (p *FileProvider) ListAccounts(ctx context.Context) ([]Account, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var doc struct {
		Accounts []Account `yaml:"accounts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse accounts file %s: %w", p.path, err)
	}
	out := make([]Account, 0, len(doc.Accounts))
	seen := map[string]bool{}
	for i, acc := range doc.Accounts {
		if acc.Disabled {
			continue
		}
		if strings.TrimSpace(acc.ID) == "" {
			return nil, fmt.Errorf("accounts file %s: entry %d has no id", p.path, i)
		}
		if seen[acc.ID] {
			return nil, fmt.Errorf("accounts file %s: duplicate account id %q", p.path, acc.ID)
		}
		if strings.TrimSpace(acc.RefreshCredential) == "" {
			return nil, fmt.Errorf("accounts file %s: account %q has no refresh credential", p.path, acc.ID)
		}
		seen[acc.ID] = true
		out = append(out, acc)
	}
	return out, nil
}

// StaticProvider serves a fixed account list; used by tests and by the CLI
// when a single credential is passed via environment.
type StaticProvider []Account

// ListAccounts returns the fixed list.
func (p StaticProvider) ListAccounts(ctx context.Context) ([]Account, error) {
	return p, nil
}
