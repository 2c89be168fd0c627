package backend

import (
	"errors"
	"testing"
)

func TestManagerBindsOneKindPerProcess(t *testing.T) {
	reset()
	defer reset()

	first, err := NewManager(KindMultipass, Options{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	second, err := NewManager(KindMultipass, Options{})
	if err != nil {
		t.Fatalf("NewManager for the bound kind failed: %v", err)
	}
	if first != second {
		t.Error("Expected the same Manager instance for repeated requests of the bound kind")
	}
}

func TestManagerRejectsMismatchedKind(t *testing.T) {
	reset()
	defer reset()

	if _, err := NewManager(KindMultipass, Options{}); err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	_, err := NewManager(KindDocker, Options{})
	if err == nil {
		t.Fatal("Expected a configuration error for a mismatched backend kind")
	}
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected MismatchError, got %T: %v", err, err)
	}
	if mismatch.Bound != KindMultipass || mismatch.Requested != KindDocker {
		t.Errorf("Unexpected mismatch detail: bound=%q requested=%q", mismatch.Bound, mismatch.Requested)
	}
}

func TestManagerRejectsUnknownKind(t *testing.T) {
	reset()
	defer reset()

	if _, err := NewManager("kvm", Options{}); err == nil {
		t.Fatal("Expected an error for an unsupported backend kind")
	}
}
