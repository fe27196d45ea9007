package manifest

import (
	"fmt"
	"net/url"

	"howett.net/plist"
)

// Asset points the installer at a downloadable artifact.
type Asset struct {
	Kind string `plist:"kind"`
	URL  string `plist:"url"`
}

// Metadata describes the installable app.
type Metadata struct {
	BundleIdentifier string `plist:"bundle-identifier"`
	BundleVersion    string `plist:"bundle-version"`
	Kind             string `plist:"kind"`
	Title            string `plist:"title"`
}

// Item pairs one software package with its metadata.
type Item struct {
	Assets   []Asset  `plist:"assets"`
	Metadata Metadata `plist:"metadata"`
}

// Manifest is the OTA install manifest fetched by the installer protocol.
// The encoded form must stay compatible with what that protocol expects:
// one item carrying one software-package asset plus metadata.
type Manifest struct {
	Items []Item `plist:"items"`
}

// New builds a manifest for a single signed archive.
func New(archiveURL, bundleID, version, title string) *Manifest {
	return &Manifest{
		Items: []Item{{
			Assets: []Asset{{
				Kind: "software-package",
				URL:  archiveURL,
			}},
			Metadata: Metadata{
				BundleIdentifier: bundleID,
				BundleVersion:    version,
				Kind:             "software",
				Title:            title,
			},
		}},
	}
}

// Marshal renders the manifest as an XML plist.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := plist.MarshalIndent(m, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

// InstallLink returns the itms-services URI that triggers an OTA install of
// the given manifest URL.
func InstallLink(manifestURL string) string {
	return "itms-services://?action=download-manifest&url=" + url.QueryEscape(manifestURL)
}
