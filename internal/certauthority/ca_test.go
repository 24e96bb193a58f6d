package certauthority

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreatePersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	ca1, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if len(ca1.CACertPEM()) == 0 {
		t.Fatalf("expected non-empty CA PEM")
	}

	ca2, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if string(ca1.CACertPEM()) != string(ca2.CACertPEM()) {
		t.Fatalf("CA cert changed across reload")
	}
}

func TestLeafForIsMemoized(t *testing.T) {
	ca, err := LoadOrCreate(filepath.Join(t.TempDir(), "ca"))
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	first, err := ca.LeafFor("example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	second, err := ca.LeafFor("example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if &first.Certificate[0] != &first.Certificate[0] {
		t.Fatalf("sanity check failed")
	}
	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Fatalf("expected memoized leaf, got distinct certificates")
	}
}

func TestLeafForIPAddress(t *testing.T) {
	ca, err := LoadOrCreate(filepath.Join(t.TempDir(), "ca"))
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	leaf, err := ca.LeafFor("127.0.0.1")
	if err != nil {
		t.Fatalf("LeafFor ip: %v", err)
	}
	if leaf == nil {
		t.Fatalf("expected non-nil leaf for IP host")
	}
}
