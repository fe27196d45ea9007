package ipa

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"howett.net/plist"
)

// writeTestBundle lays out a minimal extracted IPA tree with a symlink, the
// way framework directories use them.
func writeTestBundle(t *testing.T, root string) string {
	t.Helper()
	appPath := filepath.Join(root, "Payload", "Test.app")
	fwDir := filepath.Join(appPath, "Frameworks", "Test.framework", "Versions", "A")
	if err := os.MkdirAll(fwDir, 0755); err != nil {
		t.Fatalf("failed to create bundle tree: %v", err)
	}

	infoPlist, err := plist.MarshalIndent(map[string]interface{}{
		"CFBundleIdentifier":         "com.example.app",
		"CFBundleExecutable":         "Test",
		"CFBundleName":               "Test",
		"CFBundleDisplayName":        "Test App",
		"CFBundleShortVersionString": "2.1",
		"CFBundleVersion":            "42",
	}, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatalf("failed to marshal Info.plist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(appPath, "Info.plist"), infoPlist, 0644); err != nil {
		t.Fatalf("failed to write Info.plist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(appPath, "Test"), []byte("binary"), 0755); err != nil {
		t.Fatalf("failed to write executable: %v", err)
	}
	if err := os.WriteFile(filepath.Join(fwDir, "Test"), []byte("framework"), 0755); err != nil {
		t.Fatalf("failed to write framework binary: %v", err)
	}
	if err := os.Symlink("Versions/A/Test", filepath.Join(appPath, "Frameworks", "Test.framework", "Test")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}
	return appPath
}

func TestRepackageExtractRoundTripPreservesSymlinks(t *testing.T) {
	srcDir := t.TempDir()
	writeTestBundle(t, srcDir)

	ipaPath := filepath.Join(t.TempDir(), "test.ipa")
	if err := Repackage(srcDir, ipaPath); err != nil {
		t.Fatalf("Repackage failed: %v", err)
	}

	destDir := t.TempDir()
	if err := Extract(ipaPath, destDir); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	linkPath := filepath.Join(destDir, "Payload", "Test.app", "Frameworks", "Test.framework", "Test")
	fi, err := os.Lstat(linkPath)
	if err != nil {
		t.Fatalf("symlink missing after round trip: %v", err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		t.Fatal("symlink was dereferenced into a regular file")
	}
	target, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("failed to read link: %v", err)
	}
	if target != "Versions/A/Test" {
		t.Errorf("Expected link target Versions/A/Test, got %q", target)
	}

	data, err := os.ReadFile(filepath.Join(destDir, "Payload", "Test.app", "Test"))
	if err != nil {
		t.Fatalf("executable missing after round trip: %v", err)
	}
	if string(data) != "binary" {
		t.Errorf("Unexpected executable contents %q", data)
	}
}

func TestExtractRejectsZipSlip(t *testing.T) {
	ipaPath := filepath.Join(t.TempDir(), "evil.ipa")
	f, err := os.Create(ipaPath)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	w := zip.NewWriter(f)
	entry, err := w.Create("../outside.txt")
	if err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if _, err := entry.Write([]byte("escape")); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}

	if err := Extract(ipaPath, t.TempDir()); err == nil {
		t.Fatal("Expected extraction of ../ entry to fail")
	}
}

func addSymlinkEntry(t *testing.T, w *zip.Writer, name, target string) {
	t.Helper()
	header := &zip.FileHeader{Name: name, Method: zip.Store}
	header.SetMode(os.ModeSymlink | 0755)
	entry, err := w.CreateHeader(header)
	if err != nil {
		t.Fatalf("failed to add symlink entry: %v", err)
	}
	if _, err := entry.Write([]byte(target)); err != nil {
		t.Fatalf("failed to write symlink target: %v", err)
	}
}

// A symlink pointing above the extraction root must be rejected before any
// later entry can be routed through it.
func TestExtractRejectsEscapingSymlink(t *testing.T) {
	root := t.TempDir()
	destDir := filepath.Join(root, "scratch")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatalf("failed to create dest dir: %v", err)
	}

	ipaPath := filepath.Join(t.TempDir(), "evil.ipa")
	f, err := os.Create(ipaPath)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	w := zip.NewWriter(f)
	addSymlinkEntry(t, w, "Payload/lnk", "../../outside")
	entry, err := w.Create("Payload/lnk/pwned.txt")
	if err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if _, err := entry.Write([]byte("escaped")); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}

	if err := Extract(ipaPath, destDir); err == nil {
		t.Fatal("Expected symlink escaping the extraction root to fail")
	}
	if _, err := os.Stat(filepath.Join(root, "outside", "pwned.txt")); !os.IsNotExist(err) {
		t.Fatal("file was written outside the extraction root")
	}
}

func TestExtractRejectsAbsoluteSymlink(t *testing.T) {
	ipaPath := filepath.Join(t.TempDir(), "evil.ipa")
	f, err := os.Create(ipaPath)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	w := zip.NewWriter(f)
	addSymlinkEntry(t, w, "Payload/lnk", "/etc/passwd")
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}

	if err := Extract(ipaPath, t.TempDir()); err == nil {
		t.Fatal("Expected absolute symlink target to fail")
	}
}

func TestExtractBadArchive(t *testing.T) {
	ipaPath := filepath.Join(t.TempDir(), "corrupt.ipa")
	if err := os.WriteFile(ipaPath, []byte("not a zip"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := Extract(ipaPath, t.TempDir()); err == nil {
		t.Fatal("Expected corrupt archive to fail")
	}
}

func TestFindAppBundle(t *testing.T) {
	root := t.TempDir()
	appPath := writeTestBundle(t, root)

	found, err := FindAppBundle(root)
	if err != nil {
		t.Fatalf("FindAppBundle failed: %v", err)
	}
	if found != appPath {
		t.Errorf("Expected %s, got %s", appPath, found)
	}
}

func TestFindAppBundleMissing(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Payload"), 0755); err != nil {
		t.Fatalf("failed to create Payload: %v", err)
	}
	if _, err := FindAppBundle(root); err == nil {
		t.Fatal("Expected missing app bundle to fail")
	}
}

func TestReadInfo(t *testing.T) {
	root := t.TempDir()
	appPath := writeTestBundle(t, root)

	info, err := ReadInfo(appPath)
	if err != nil {
		t.Fatalf("ReadInfo failed: %v", err)
	}
	if info.BundleID != "com.example.app" {
		t.Errorf("Unexpected bundle id %q", info.BundleID)
	}
	if info.Title() != "Test App" {
		t.Errorf("Unexpected title %q", info.Title())
	}
	if info.MarketingVersion() != "2.1" {
		t.Errorf("Unexpected version %q", info.MarketingVersion())
	}
}
