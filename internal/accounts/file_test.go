package accounts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeAccountsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write accounts file: %v", err)
	}
	return path
}

func TestFileProvider_ListAccounts(t *testing.T) {
	path := writeAccountsFile(t, `
accounts:
  - id: personal
    login: octocat
    refresh_credential: gho_aaa
  - id: work
    login: worker
    refresh_credential: gho_bbb
    scopes: [chat, completions]
  - id: retired
    refresh_credential: gho_ccc
    disabled: true
`)
	provider := NewFileProvider(path)

	accts, err := provider.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accts) != 2 {
		t.Fatalf("accounts = %d, want 2 (disabled filtered)", len(accts))
	}
	if accts[0].ID != "personal" || accts[0].Login != "octocat" {
		t.Errorf("first = %+v", accts[0])
	}
	if len(accts[1].Scopes) != 2 {
		t.Errorf("scopes = %v", accts[1].Scopes)
	}
}

func TestFileProvider_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing id", "accounts:\n  - refresh_credential: gho_x\n"},
		{"duplicate id", "accounts:\n  - id: a\n    refresh_credential: x\n  - id: a\n    refresh_credential: y\n"},
		{"missing credential", "accounts:\n  - id: a\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := NewFileProvider(writeAccountsFile(t, tc.content))
			if _, err := provider.ListAccounts(context.Background()); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFileProvider_MissingFile(t *testing.T) {
	provider := NewFileProvider(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := provider.ListAccounts(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}
