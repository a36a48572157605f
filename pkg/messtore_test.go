package messtore_test

import (
	"testing"

	messtore "github.com/getpup/messtore/pkg"
)

func TestVersion(t *testing.T) {
	version := messtore.Version()
	if version == "" {
		t.Error("Version() should return a non-empty string")
	}
}
