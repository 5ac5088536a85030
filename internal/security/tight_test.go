package security

import "testing"

func TestIsRegisteredTunnel(t *testing.T) {
	reg := registeredTunnelCapabilities[0]
	if !isRegisteredTunnel(reg) {
		t.Errorf("the NOTUNNEL capability must be recognised as registered")
	}
	unknown := capability(99, "XXXX", "UNKNOWN_")
	if isRegisteredTunnel(unknown) {
		t.Errorf("an unregistered capability must not be recognised as registered")
	}
}

func TestSignatureString(t *testing.T) {
	c := capability(1, "STDV", "NOAUTH__")
	if got := c.signatureString(); got != "NOAUTH__" {
		t.Errorf("signatureString() = %q, want %q", got, "NOAUTH__")
	}
}

func TestLibraryPrefersNoAuthOverVNCAuth(t *testing.T) {
	if librarySupportedAuthSignatures[0] != "NOAUTH__" {
		t.Errorf("NOAUTH__ must be the first preference")
	}
	if librarySupportedAuthSignatures[1] != "VNCAUTH_" {
		t.Errorf("VNCAUTH_ must be the fallback preference")
	}
}
