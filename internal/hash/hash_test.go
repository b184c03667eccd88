package hash

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

func writeFile(t *testing.T, fsys billy.Filesystem, path string, content []byte) {
	t.Helper()
	if err := util.WriteFile(fsys, path, content, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestSHA256Hasher_HashFile(t *testing.T) {
	fsys := memfs.New()
	hasher := NewSHA256Hasher()

	t.Run("hash of existing file", func(t *testing.T) {
		writeFile(t, fsys, "test.txt", []byte("hello world"))

		hash1, err := hasher.HashFile(fsys, "test.txt")
		if err != nil {
			t.Fatalf("HashFile failed: %v", err)
		}
		if hash1 == "" {
			t.Error("HashFile returned empty hash")
		}

		hash2, err := hasher.HashFile(fsys, "test.txt")
		if err != nil {
			t.Fatalf("HashFile failed on second call: %v", err)
		}
		if hash1 != hash2 {
			t.Errorf("HashFile inconsistent: got %s and %s", hash1, hash2)
		}
	})

	t.Run("different files have different hashes", func(t *testing.T) {
		writeFile(t, fsys, "file1.txt", []byte("content A"))
		writeFile(t, fsys, "file2.txt", []byte("content B"))

		hash1, err := hasher.HashFile(fsys, "file1.txt")
		if err != nil {
			t.Fatalf("HashFile failed for file1: %v", err)
		}
		hash2, err := hasher.HashFile(fsys, "file2.txt")
		if err != nil {
			t.Fatalf("HashFile failed for file2: %v", err)
		}
		if hash1 == hash2 {
			t.Error("Different files produced same hash")
		}
	})

	t.Run("non-existent file returns error", func(t *testing.T) {
		if _, err := hasher.HashFile(fsys, "does-not-exist.txt"); err == nil {
			t.Error("Expected error for non-existent file, got nil")
		}
	})

	t.Run("empty file can be hashed", func(t *testing.T) {
		writeFile(t, fsys, "empty.txt", []byte{})

		hash, err := hasher.HashFile(fsys, "empty.txt")
		if err != nil {
			t.Fatalf("HashFile failed for empty file: %v", err)
		}

		// SHA-256 of empty string is a known value
		expectedEmptyHash := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
		if hash != expectedEmptyHash {
			t.Errorf("Empty file hash incorrect: got %s, want %s", hash, expectedEmptyHash)
		}
	})
}

func TestDigest(t *testing.T) {
	hasher := NewSHA256Hasher()

	t.Run("no paths", func(t *testing.T) {
		_, err := Digest(memfs.New(), hasher, nil)
		if !errors.Is(err, ErrNoFiles) {
			t.Errorf("expected ErrNoFiles, got %v", err)
		}
	})

	t.Run("order independent", func(t *testing.T) {
		fsys := memfs.New()
		writeFile(t, fsys, "package-lock.json", []byte(`{"lockfileVersion":3}`))
		writeFile(t, fsys, "packages/a/package-lock.json", []byte(`{"name":"a"}`))

		d1, err := Digest(fsys, hasher, []string{"package-lock.json", "packages/a/package-lock.json"})
		if err != nil {
			t.Fatalf("Digest failed: %v", err)
		}
		d2, err := Digest(fsys, hasher, []string{"packages/a/package-lock.json", "package-lock.json"})
		if err != nil {
			t.Fatalf("Digest failed: %v", err)
		}
		if d1 != d2 {
			t.Errorf("digest depends on input order: %s vs %s", d1, d2)
		}
	})

	t.Run("same bytes in different trees", func(t *testing.T) {
		content := []byte(`{"lockfileVersion":3,"packages":{}}`)
		fsA := memfs.New()
		fsB := memfs.New()
		writeFile(t, fsA, "package-lock.json", content)
		writeFile(t, fsB, "package-lock.json", content)

		dA, err := Digest(fsA, hasher, []string{"package-lock.json"})
		if err != nil {
			t.Fatalf("Digest failed: %v", err)
		}
		dB, err := Digest(fsB, hasher, []string{"package-lock.json"})
		if err != nil {
			t.Fatalf("Digest failed: %v", err)
		}
		if dA != dB {
			t.Errorf("identical content produced different digests: %s vs %s", dA, dB)
		}
	})

	t.Run("distinct contents give distinct digests", func(t *testing.T) {
		seen := make(map[string]int)
		for i := 0; i < 200; i++ {
			fsys := memfs.New()
			writeFile(t, fsys, "package-lock.json", []byte(fmt.Sprintf(`{"version":"1.0.%d"}`, i)))
			d, err := Digest(fsys, hasher, []string{"package-lock.json"})
			if err != nil {
				t.Fatalf("Digest failed: %v", err)
			}
			if prev, ok := seen[d]; ok {
				t.Fatalf("collision between inputs %d and %d", prev, i)
			}
			seen[d] = i
		}
	})

	t.Run("hash error propagates", func(t *testing.T) {
		fake := NewFakeHasher()
		fake.SetError("broken.json", errors.New("boom"))
		if _, err := Digest(memfs.New(), fake, []string{"broken.json"}); err == nil {
			t.Error("expected error from failing hasher")
		}
	})
}

func TestFakeHasher(t *testing.T) {
	hasher := NewFakeHasher()

	t.Run("returns default hash for unknown path", func(t *testing.T) {
		hash, err := hasher.HashFile(nil, "/some/path")
		if err != nil {
			t.Errorf("FakeHasher should not return error, got: %v", err)
		}
		if hash != "fakehash" {
			t.Errorf("Expected default hash 'fakehash', got: %s", hash)
		}
	})

	t.Run("returns configured hash for known path", func(t *testing.T) {
		hasher.SetHash("package-lock.json", "custom-hash-123")

		hash, err := hasher.HashFile(nil, "package-lock.json")
		if err != nil {
			t.Errorf("FakeHasher should not return error, got: %v", err)
		}
		if hash != "custom-hash-123" {
			t.Errorf("Expected hash %s, got: %s", "custom-hash-123", hash)
		}
	})
}
