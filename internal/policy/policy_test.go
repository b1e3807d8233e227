package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBlacklist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.txt")
	if err := os.WriteFile(path, []byte("10.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(false)
	if err := p.LoadBlacklistFile(path); err != nil {
		t.Fatalf("LoadBlacklistFile: %v", err)
	}

	if err := p.Check("10.0.0.1"); err == nil {
		t.Fatal("expected blacklisted host to be rejected")
	}
	if err := p.Check("10.0.0.2"); err != nil {
		t.Fatalf("expected non-blacklisted host to pass, got %v", err)
	}
}

func TestCheckPrivateIP(t *testing.T) {
	p := New(true)

	if err := p.Check("192.168.1.1"); err == nil {
		t.Fatal("expected private IP to be rejected")
	}
	if err := p.Check("8.8.8.8"); err != nil {
		t.Fatalf("expected public IP to pass, got %v", err)
	}
	if err := p.Check("example.com"); err != nil {
		t.Fatalf("expected DNS name to skip private-address check, got %v", err)
	}
}
