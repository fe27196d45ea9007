package profile

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"howett.net/plist"
)

// wrapInEnvelope surrounds a plist with opaque bytes standing in for the
// CMS signature envelope of a real .mobileprovision file.
func wrapInEnvelope(t *testing.T, payload map[string]interface{}) []byte {
	t.Helper()
	blob, err := plist.MarshalIndent(payload, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatalf("failed to marshal test plist: %v", err)
	}
	var buf bytes.Buffer
	buf.Write([]byte{0x30, 0x82, 0x0b, 0xad, 0x06, 0x09, 0x2a})
	buf.Write(blob)
	buf.Write([]byte{0x01, 0x02, 0x03, 0x04, 0xff, 0xfe})
	return buf.Bytes()
}

func testProfilePayload() map[string]interface{} {
	return map[string]interface{}{
		"Name":           "Test Profile",
		"TeamIdentifier": []string{"TEAM123"},
		"TeamName":       "Test Team",
		"UUID":           "cafe0000-0000-0000-0000-000000000001",
		"Entitlements": map[string]interface{}{
			"application-identifier": "TEAM123.com.example.app",
			"get-task-allow":         true,
		},
		"ExpirationDate": time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestParseProfile(t *testing.T) {
	data := wrapInEnvelope(t, testProfilePayload())

	prof, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if prof.TeamID() != "TEAM123" {
		t.Errorf("Expected team TEAM123, got %q", prof.TeamID())
	}
	if prof.ApplicationIdentifier() != "TEAM123.com.example.app" {
		t.Errorf("Unexpected application identifier %q", prof.ApplicationIdentifier())
	}
	if prof.Name != "Test Profile" {
		t.Errorf("Unexpected name %q", prof.Name)
	}
	if prof.IsExpired() {
		t.Error("Profile should not be expired")
	}
}

func TestParseProfileNoMarkers(t *testing.T) {
	_, err := Parse([]byte{0x30, 0x82, 0x01, 0x02, 0x03})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
	if parseErr.Reason != ReasonNoEmbeddedDocument {
		t.Errorf("Expected reason %s, got %s", ReasonNoEmbeddedDocument, parseErr.Reason)
	}
}

func TestParseProfileMissingTeam(t *testing.T) {
	payload := testProfilePayload()
	delete(payload, "TeamIdentifier")

	_, err := Parse(wrapInEnvelope(t, payload))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
	if parseErr.Reason != ReasonMissingField {
		t.Errorf("Expected reason %s, got %s", ReasonMissingField, parseErr.Reason)
	}
}

func TestParseProfileMissingAppIdentifier(t *testing.T) {
	payload := testProfilePayload()
	payload["Entitlements"] = map[string]interface{}{"get-task-allow": true}

	_, err := Parse(wrapInEnvelope(t, payload))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
	if parseErr.Reason != ReasonMissingField {
		t.Errorf("Expected reason %s, got %s", ReasonMissingField, parseErr.Reason)
	}
}

func TestParseProfileIdentifierWithoutBundleID(t *testing.T) {
	payload := testProfilePayload()
	payload["Entitlements"] = map[string]interface{}{
		"application-identifier": "TEAM123",
	}

	_, err := Parse(wrapInEnvelope(t, payload))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
	if parseErr.Reason != ReasonMissingField {
		t.Errorf("Expected reason %s, got %s", ReasonMissingField, parseErr.Reason)
	}
}

func TestTeamIDFallsBackToPrefix(t *testing.T) {
	payload := testProfilePayload()
	delete(payload, "TeamIdentifier")
	payload["ApplicationIdentifierPrefix"] = []string{"PREFIX99"}

	prof, err := Parse(wrapInEnvelope(t, payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if prof.TeamID() != "PREFIX99" {
		t.Errorf("Expected team PREFIX99, got %q", prof.TeamID())
	}
}

func TestEntitlementsXMLRoundTrip(t *testing.T) {
	prof, err := Parse(wrapInEnvelope(t, testProfilePayload()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	xml, err := prof.EntitlementsXML()
	if err != nil {
		t.Fatalf("EntitlementsXML failed: %v", err)
	}

	var decoded map[string]interface{}
	if _, err := plist.Unmarshal(xml, &decoded); err != nil {
		t.Fatalf("Entitlements XML did not decode: %v", err)
	}
	if decoded["application-identifier"] != "TEAM123.com.example.app" {
		t.Errorf("Unexpected application-identifier %v", decoded["application-identifier"])
	}
}
