package version

import (
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Fatal("Version is empty")
	}
	if strings.ContainsAny(Version, " \n\t") {
		t.Errorf("Version %q contains whitespace", Version)
	}
	if String() != Version {
		t.Errorf("String() = %q, want %q", String(), Version)
	}
	if want := "dongle version " + Version; Full() != want {
		t.Errorf("Full() = %q, want %q", Full(), want)
	}
}
