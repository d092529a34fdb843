package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteReadStat(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "artifact.json")

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fs.WriteFile(path, []byte(`{"ok":true}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected content %q", data)
	}

	info, err := fs.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(len(data)) {
		t.Errorf("Stat size %d, want %d", info.Size(), len(data))
	}
}

func TestOSFileSystem_List(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()

	for _, name := range []string{"b.jpg", "a.jpg", "nested/c.json"} {
		path := filepath.Join(dir, name)
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := fs.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := fs.List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("List returned %d files, want 3: %v", len(files), files)
	}
	// Sorted output
	if filepath.Base(files[0]) != "a.jpg" {
		t.Errorf("expected a.jpg first, got %v", files)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	err := mfs.WriteFile("/test.txt", testData, 0644)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// Mutating the returned slice must not corrupt the stored copy.
	data[0] = 'X'
	again, _ := mfs.ReadFile("/test.txt")
	if string(again) != string(testData) {
		t.Error("ReadFile returned aliased data")
	}
}

func TestMemoryFileSystem_ReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.ReadFile("/missing.txt"); err == nil {
		t.Error("expected error reading missing file")
	}
	if _, err := mfs.Stat("/missing.txt"); err == nil {
		t.Error("expected error statting missing file")
	}
}

func TestMemoryFileSystem_MkdirAllAndExists(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}

	info, err := mfs.Stat("/a/b")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected /a/b to be a directory")
	}
}

func TestMemoryFileSystem_RemoveAll(t *testing.T) {
	mfs := NewMemoryFileSystem()

	files := []string{"/out/video_1/a.jpg", "/out/video_1/b.jpg", "/out/video_2/c.jpg"}
	for _, f := range files {
		if err := mfs.WriteFile(f, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := mfs.RemoveAll("/out/video_1"); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	if mfs.Exists("/out/video_1/a.jpg") || mfs.Exists("/out/video_1/b.jpg") {
		t.Error("expected video_1 files to be removed")
	}
	if !mfs.Exists("/out/video_2/c.jpg") {
		t.Error("expected video_2 files to survive")
	}
}

func TestMemoryFileSystem_List(t *testing.T) {
	mfs := NewMemoryFileSystem()

	for _, f := range []string{"/evid/z.jpg", "/evid/a.jpg", "/other/x.jpg"} {
		if err := mfs.WriteFile(f, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := mfs.List("/evid")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"/evid/a.jpg", "/evid/z.jpg"}
	if len(files) != len(want) {
		t.Fatalf("List returned %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestMemoryFileSystem_FileMode(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/perm.txt", []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	info, err := mfs.Stat("/perm.txt")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode() != os.FileMode(0600) {
		t.Errorf("mode = %v, want 0600", info.Mode())
	}
}
