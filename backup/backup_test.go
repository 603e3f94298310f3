package backup

import (
	"testing"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

type fakeStore struct {
	regions map[uint64][]byte
}

func (s *fakeStore) GetLocalPointer(regionID, offset uint64) ([]byte, error) {
	buf, ok := s.regions[regionID]
	if !ok {
		return nil, cmn.NewError(cmn.NotFound, "no such region")
	}
	if offset > uint64(len(buf)) {
		return nil, cmn.NewError(cmn.OutOfRange, "offset out of range")
	}
	return buf[offset:], nil
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := make([]byte, 8192)
	for i := range src {
		src[i] = byte(i % 251)
	}
	dst := make([]byte, 8192)
	store := &fakeStore{regions: map[uint64][]byte{1: src, 2: dst}}

	mgr, err := New(dir, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()

	req := Request{
		RegionID: 1, Offset: 100, Size: 4096,
		BackupName: "item-a", UID: 1000, GID: 100, Mode: 0o640,
		DataItemName: "item-a", ItemSize: 4096, WriteMetadata: true,
	}
	if err := mgr.Backup(req); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	if err := mgr.Restore(RestoreRequest{RegionID: 1, Offset: 4096, Size: 4096, BackupName: "item-a"}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for i := 0; i < 4096; i++ {
		if want := byte((100 + i) % 251); src[4096+i] != want {
			t.Fatalf("byte %d mismatch: got %d want %d", i, src[4096+i], want)
		}
	}
}

func TestGetBackupInfoEnforcesPermission(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{regions: map[uint64][]byte{1: make([]byte, 1024)}}
	mgr, err := New(dir, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()

	req := Request{RegionID: 1, Offset: 0, Size: 512, BackupName: "secret", UID: 42, GID: 42, Mode: 0o600, ItemSize: 512, WriteMetadata: true}
	if err := mgr.Backup(req); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	if _, err := mgr.GetBackupInfo("secret", 42, 42, 0); err != nil {
		t.Fatalf("owner should have access: %v", err)
	}
	if _, err := mgr.GetBackupInfo("secret", 7, 7, 0); err == nil {
		t.Fatalf("non-owner should be denied access")
	}
	if _, err := mgr.GetBackupInfo("secret", 0, 0, 0); err != nil {
		t.Fatalf("root should always have access: %v", err)
	}
}

func TestDeleteBackupRemovesCatalogAndFile(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{regions: map[uint64][]byte{1: make([]byte, 1024)}}
	mgr, err := New(dir, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()

	req := Request{RegionID: 1, Offset: 0, Size: 256, BackupName: "to-delete", ItemSize: 256, WriteMetadata: true}
	if err := mgr.Backup(req); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := mgr.DeleteBackup("to-delete"); err != nil {
		t.Fatalf("DeleteBackup: %v", err)
	}
	if _, err := mgr.GetBackupInfo("to-delete", 0, 0, 0); err == nil {
		t.Fatalf("expected not-found after delete")
	}
}

func TestListBackupMatchesPattern(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{regions: map[uint64][]byte{1: make([]byte, 1024)}}
	mgr, err := New(dir, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()

	for _, name := range []string{"nightly-1", "nightly-2", "weekly-1"} {
		req := Request{RegionID: 1, Offset: 0, Size: 128, BackupName: name, ItemSize: 128, WriteMetadata: true}
		if err := mgr.Backup(req); err != nil {
			t.Fatalf("Backup %s: %v", name, err)
		}
	}

	listing, err := mgr.ListBackup("nightly-*", 0, 0, 0)
	if err != nil {
		t.Fatalf("ListBackup: %v", err)
	}
	if !contains(listing, "nightly-1") || !contains(listing, "nightly-2") || contains(listing, "weekly-1") {
		t.Fatalf("unexpected listing: %q", listing)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestDefaultNameNonEmpty(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{regions: map[uint64][]byte{1: make([]byte, 16)}}
	mgr, err := New(dir, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()
	if mgr.DefaultName(1) == "" {
		t.Fatalf("expected non-empty default name")
	}
}
