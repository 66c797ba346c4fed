package subs

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	store := NewFileStore(path)

	want := []Subscription{
		{BusID: "bus-1", StopName: "Palai Bus Stand"},
		{BusID: "bus-1", StopName: "Tirunelveli Bus Stand"},
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope", "subscriptions.json"))
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
}

func TestFileStoreCorruptBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	if err := os.WriteFile(path, []byte(`{"busId":`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(path).Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("error = %v, want ErrCorrupt", err)
	}
}

func TestFileStoreSaveReplacesWholeSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	store := NewFileStore(path)

	if err := store.Save([]Subscription{
		{BusID: "bus-1", StopName: "A"},
		{BusID: "bus-1", StopName: "B"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save([]Subscription{{BusID: "bus-2", StopName: "C"}}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	want := []Subscription{{BusID: "bus-2", StopName: "C"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestFileStoreSaveNilWritesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	store := NewFileStore(path)

	if err := store.Save(nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("blob = %q, want []", data)
	}
}
