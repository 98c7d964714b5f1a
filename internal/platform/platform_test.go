package platform

import (
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
)

func TestUnsupportedRejectsEveryOperation(t *testing.T) {
	var c Collaborator = Unsupported{}

	if _, err := c.Regions(); errCode(t, err) != errcode.NotSupported {
		t.Fatal("expected Regions to report NotSupported")
	}
	if err := c.ShutdownBoot(); errCode(t, err) != errcode.NotSupported {
		t.Fatal("expected ShutdownBoot to report NotSupported")
	}
	if err := c.JumpToKernel(0, 0, 0, 0, 0); errCode(t, err) != errcode.NotSupported {
		t.Fatal("expected JumpToKernel to report NotSupported")
	}
}

func errCode(t *testing.T, err error) errcode.Code {
	t.Helper()
	code, ok := errcode.CodeOf(err)
	if !ok {
		t.Fatalf("expected a coded error, got %v", err)
	}
	return code
}
