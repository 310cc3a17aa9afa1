package adapter

import (
	"context"
	"reflect"
	"testing"

	"dbvault/internal/errors"
)

// ---
// Fakes

type fakeStorage struct{}

func (f *fakeStorage) List(ctx context.Context, cfg Config, dir string) ([]FileInfo, error) {
	return nil, nil
}
func (f *fakeStorage) Download(ctx context.Context, cfg Config, remotePath, localPath string, onProgress ProgressFunc) error {
	return nil
}
func (f *fakeStorage) Upload(ctx context.Context, cfg Config, localPath, remotePath string, onProgress ProgressFunc) error {
	return nil
}
func (f *fakeStorage) Delete(ctx context.Context, cfg Config, remotePath string) error {
	return nil
}
func (f *fakeStorage) Test(ctx context.Context, cfg Config) TestResult {
	return TestResult{Success: true}
}

type fakeDatabase struct {
	desc Descriptor
}

func (f *fakeDatabase) Descriptor() Descriptor { return f.desc }
func (f *fakeDatabase) Dump(ctx context.Context, cfg Config, destPath string, onLog LogFunc, onProgress ProgressFunc) error {
	return nil
}
func (f *fakeDatabase) Restore(ctx context.Context, cfg Config, sourcePath string, onLog LogFunc, onProgress ProgressFunc) error {
	return nil
}
func (f *fakeDatabase) Test(ctx context.Context, cfg Config) TestResult {
	return TestResult{Success: true}
}

// ---
// Registry

func TestRegistryLookup(t *testing.T) {
	st := &fakeStorage{}
	db := &fakeDatabase{desc: Descriptor{ID: "postgres"}}

	reg := NewRegistry(
		map[string]Storage{"local": st},
		map[string]Database{"postgres": db},
	)

	got, err := reg.Storage("local")
	if err != nil {
		t.Fatalf("Storage(local) returned error: %v", err)
	}
	if got != st {
		t.Error("Storage(local) returned wrong implementation")
	}

	gotDB, err := reg.Database("postgres")
	if err != nil {
		t.Fatalf("Database(postgres) returned error: %v", err)
	}
	if gotDB != db {
		t.Error("Database(postgres) returned wrong implementation")
	}
}

func TestRegistryUnknownAdapter(t *testing.T) {
	reg := NewRegistry(
		map[string]Storage{"local": &fakeStorage{}},
		map[string]Database{"postgres": &fakeDatabase{}},
	)

	if _, err := reg.Storage("s3"); err == nil {
		t.Error("expected error for unknown storage adapter")
	} else if errors.GetCode(err) != errors.ErrCodeUnknownAdapter {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.ErrCodeUnknownAdapter)
	}

	if _, err := reg.Database("oracle"); err == nil {
		t.Error("expected error for unknown database adapter")
	} else if errors.GetCode(err) != errors.ErrCodeUnknownAdapter {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.ErrCodeUnknownAdapter)
	}
}

func TestRegistryCopiesInputMaps(t *testing.T) {
	storage := map[string]Storage{"local": &fakeStorage{}}
	reg := NewRegistry(storage, nil)

	// Mutating the source map after construction must not affect lookups
	storage["sneaky"] = &fakeStorage{}
	delete(storage, "local")

	if _, err := reg.Storage("local"); err != nil {
		t.Error("registry lost adapter after source map mutation")
	}
	if _, err := reg.Storage("sneaky"); err == nil {
		t.Error("registry gained adapter after source map mutation")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	reg := NewRegistry(
		map[string]Storage{
			"sftp":  &fakeStorage{},
			"local": &fakeStorage{},
			"s3":    &fakeStorage{},
		},
		map[string]Database{
			"postgres": &fakeDatabase{},
			"mariadb":  &fakeDatabase{},
			"mysql":    &fakeDatabase{},
		},
	)

	wantStorage := []string{"local", "s3", "sftp"}
	if got := reg.StorageIDs(); !reflect.DeepEqual(got, wantStorage) {
		t.Errorf("StorageIDs() = %v, want %v", got, wantStorage)
	}

	wantDB := []string{"mariadb", "mysql", "postgres"}
	if got := reg.DatabaseIDs(); !reflect.DeepEqual(got, wantDB) {
		t.Errorf("DatabaseIDs() = %v, want %v", got, wantDB)
	}
}

// ---
// Capability assertions

func TestOptionalCapabilityAssertion(t *testing.T) {
	var st Storage = &fakeStorage{}

	// fakeStorage does not implement SidecarReader
	if _, ok := st.(SidecarReader); ok {
		t.Error("fakeStorage should not satisfy SidecarReader")
	}

	var db Database = &fakeDatabase{}
	if _, ok := db.(RestorePreparer); ok {
		t.Error("fakeDatabase should not satisfy RestorePreparer")
	}
}
