package ipa

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

// BundleInfo holds the Info.plist fields needed for manifest generation.
type BundleInfo struct {
	BundleID     string `plist:"CFBundleIdentifier"`
	Executable   string `plist:"CFBundleExecutable"`
	Name         string `plist:"CFBundleName"`
	DisplayName  string `plist:"CFBundleDisplayName"`
	Version      string `plist:"CFBundleVersion"`
	ShortVersion string `plist:"CFBundleShortVersionString"`
}

// Title returns the user-facing app name.
func (b *BundleInfo) Title() string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	if b.Name != "" {
		return b.Name
	}
	return b.BundleID
}

// MarketingVersion returns the version string shown to users.
func (b *BundleInfo) MarketingVersion() string {
	if b.ShortVersion != "" {
		return b.ShortVersion
	}
	if b.Version != "" {
		return b.Version
	}
	return "1.0"
}

// Extract unpacks an IPA (ZIP) file into destDir. Symlink entries are
// recreated as symlinks; application bundles rely on them for framework
// structure.
func Extract(ipaPath, destDir string) error {
	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		return fmt.Errorf("failed to open IPA: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractZipFile(f, destDir); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractZipFile(f *zip.File, destDir string) error {
	// Sanitize the file path to prevent zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("invalid file path: %s", f.Name)
	}

	mode := f.FileInfo().Mode()

	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, mode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	srcFile, err := f.Open()
	if err != nil {
		return err
	}
	defer srcFile.Close()

	if mode&os.ModeSymlink != 0 {
		target, err := io.ReadAll(srcFile)
		if err != nil {
			return err
		}
		if err := checkLinkTarget(string(target), destPath, destDir); err != nil {
			return err
		}
		if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(string(target), destPath)
	}

	if err := checkParentDir(destPath, destDir); err != nil {
		return err
	}
	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, srcFile)
	return err
}

// checkLinkTarget rejects symlink entries pointing outside the extraction
// root: a later entry extracted through such a link would land outside it.
func checkLinkTarget(target, linkPath, destDir string) error {
	if filepath.IsAbs(target) {
		return fmt.Errorf("absolute symlink target: %s", target)
	}
	resolved := filepath.Join(filepath.Dir(linkPath), target)
	if !strings.HasPrefix(resolved, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("symlink target escapes extraction root: %s", target)
	}
	return nil
}

// checkParentDir verifies the directory a file entry is written into still
// resolves inside the extraction root once symlinks are followed.
func checkParentDir(destPath, destDir string) error {
	parent, err := filepath.EvalSymlinks(filepath.Dir(destPath))
	if err != nil {
		return err
	}
	root, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return err
	}
	if parent != root && !strings.HasPrefix(parent, root+string(os.PathSeparator)) {
		return fmt.Errorf("entry resolves outside extraction root: %s", destPath)
	}
	return nil
}

// FindAppBundle finds the .app bundle inside an extracted IPA
// Returns the full path to the .app directory
func FindAppBundle(extractedDir string) (string, error) {
	payloadDir := filepath.Join(extractedDir, "Payload")

	entries, err := os.ReadDir(payloadDir)
	if err != nil {
		return "", fmt.Errorf("failed to read Payload directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), ".app") {
			return filepath.Join(payloadDir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("no .app bundle found in Payload directory")
}

// Repackage creates an IPA file from an extracted directory. Symlinks are
// stored as symlink entries, never dereferenced into file copies.
func Repackage(extractedDir, outputPath string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	w := zip.NewWriter(outFile)
	defer w.Close()

	err = filepath.Walk(extractedDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == extractedDir {
			return nil
		}

		relPath, err := filepath.Rel(extractedDir, path)
		if err != nil {
			return err
		}
		// Use forward slashes for ZIP paths
		zipPath := strings.ReplaceAll(relPath, string(os.PathSeparator), "/")

		if info.IsDir() {
			_, err := w.Create(zipPath + "/")
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = zipPath

		if info.Mode()&os.ModeSymlink != 0 {
			// The entry body of a symlink is its target path
			header.Method = zip.Store
			writer, err := w.CreateHeader(header)
			if err != nil {
				return err
			}
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_, err = writer.Write([]byte(target))
			return err
		}

		header.Method = zip.Deflate
		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(writer, file)
		return err
	})
	if err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}
	return outFile.Close()
}

// ReadInfo reads and decodes the app bundle's Info.plist.
func ReadInfo(appPath string) (*BundleInfo, error) {
	data, err := os.ReadFile(filepath.Join(appPath, "Info.plist"))
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}
	var info BundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	if info.BundleID == "" {
		return nil, fmt.Errorf("CFBundleIdentifier not found in Info.plist")
	}
	return &info, nil
}
