package files

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestList_DirsFirstSorted(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "zdir"), 0o755)

	entries, err := New(nil).List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if !entries[0].IsDir || entries[0].Name != "zdir" {
		t.Errorf("first entry = %+v, want the directory", entries[0])
	}
	if entries[1].Name != "a.txt" || entries[2].Name != "b.txt" {
		t.Errorf("files not sorted: %s, %s", entries[1].Name, entries[2].Name)
	}
}

func TestList_MissingDir(t *testing.T) {
	if _, err := New(nil).List("/does/not/exist"); err == nil {
		t.Fatal("List of missing dir should fail")
	}
}

func TestReadBase64_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	content := []byte{0x00, 0x01, 0xFF}
	os.WriteFile(path, content, 0o644)

	b64, err := New(nil).ReadBase64(path)
	if err != nil {
		t.Fatalf("ReadBase64: %v", err)
	}
	got, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("round trip mismatch: %v", got)
	}
}

func TestReadBase64_RefusesDirectory(t *testing.T) {
	if _, err := New(nil).ReadBase64(t.TempDir()); err == nil {
		t.Fatal("ReadBase64 of a directory should fail")
	}
}

func TestWrite_StripsPathFromName(t *testing.T) {
	dir := t.TempDir()
	b64 := base64.StdEncoding.EncodeToString([]byte("payload"))

	// A malicious name must not escape the target directory.
	if err := New(nil).Write(dir, "../../evil.txt", b64); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "evil.txt")); err != nil {
		t.Errorf("upload not written inside target dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dir)), "evil.txt")); err == nil {
		t.Error("upload escaped the target directory")
	}
}

func TestDelete_FileVsDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("x"), 0o644)

	m := New(nil)
	if err := m.Delete(dir); err == nil {
		t.Error("Delete should refuse directories")
	}
	if err := m.DeleteDir(path); err == nil {
		t.Error("DeleteDir should refuse files")
	}
	if err := m.Delete(path); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := m.DeleteDir(dir); err != nil {
		t.Errorf("DeleteDir: %v", err)
	}
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.txt")
	os.WriteFile(path, []byte("x"), 0o644)

	if err := New(nil).Rename(path, "new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.txt")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestCreateDir(t *testing.T) {
	dir := t.TempDir()
	m := New(nil)

	if err := m.CreateDir(dir, "sub"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := m.CreateDir(dir, "sub"); err == nil {
		t.Error("CreateDir of existing dir should fail")
	}
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755)
	os.WriteFile(filepath.Join(dir, "a", "report.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "a", "b", "REPORT-final.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "a", "other.txt"), []byte("x"), 0o644)

	results, err := New(nil).Search(dir, "report")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2 (case-insensitive)", len(results))
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	if _, err := New(nil).Search(t.TempDir(), ""); err == nil {
		t.Fatal("empty query should fail")
	}
}
