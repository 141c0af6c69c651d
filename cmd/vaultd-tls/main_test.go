package main

import (
	"path/filepath"
	"testing"
)

func TestRunGeneratesLoadableKeyPairs(t *testing.T) {
	dir := t.TempDir()
	if err := run(dir, "localhost,127.0.0.1", "test-client"); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"ca", "server", "client"} {
		certPath := filepath.Join(dir, name+".crt")
		keyPath := filepath.Join(dir, name+".key")
		if err := sanityCheck(certPath, keyPath); err != nil {
			t.Fatalf("%s pair failed to load: %v", name, err)
		}
	}
}
