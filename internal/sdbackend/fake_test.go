package sdbackend

import (
	"bytes"
	"io"
	"io/fs"
	"time"

	"github.com/soypat/fat"
)

// fakeVolume is a minimal in-memory stand-in for *fat.FS, letting
// sdbackend_test.go exercise read-ready/write/delete logic without a
// real FAT image.
type fakeVolume struct {
	files map[string][]byte
	err   error // when set, every call fails with this error
}

func newFakeVolume() *fakeVolume {
	return &fakeVolume{files: map[string][]byte{}}
}

type fakeFile struct {
	*bytes.Reader
	buf  *bytes.Buffer
	name string
	vol  *fakeVolume
}

func (f *fakeFile) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *fakeFile) Close() error {
	if f.buf != nil {
		f.vol.files[f.name] = append([]byte{}, f.buf.Bytes()...)
	}
	return nil
}

func (v *fakeVolume) Create(name string) (fat.File, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &fakeFile{buf: &bytes.Buffer{}, name: name, vol: v}, nil
}

func (v *fakeVolume) Open(name string) (fat.File, error) {
	if v.err != nil {
		return nil, v.err
	}
	data, ok := v.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return &fakeFile{Reader: bytes.NewReader(data)}, nil
}

func (v *fakeVolume) Stat(name string) (fs.FileInfo, error) {
	data, ok := v.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return fakeFileInfo{name: name, size: int64(len(data))}, nil
}

func (v *fakeVolume) ReadDir(string) ([]fs.DirEntry, error) {
	out := make([]fs.DirEntry, 0, len(v.files))
	for name, data := range v.files {
		out = append(out, fakeDirEntry{fakeFileInfo{name: name, size: int64(len(data))}})
	}
	return out, nil
}

func (v *fakeVolume) Remove(name string) error {
	if _, ok := v.files[name]; !ok {
		return fs.ErrNotExist
	}
	delete(v.files, name)
	return nil
}

type fakeFileInfo struct {
	name string
	size int64
}

func (i fakeFileInfo) Name() string       { return i.name }
func (i fakeFileInfo) Size() int64        { return i.size }
func (i fakeFileInfo) Mode() fs.FileMode  { return 0 }
func (i fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (i fakeFileInfo) IsDir() bool        { return false }
func (i fakeFileInfo) Sys() any           { return nil }

type fakeDirEntry struct{ info fakeFileInfo }

func (e fakeDirEntry) Name() string               { return e.info.name }
func (e fakeDirEntry) IsDir() bool                 { return false }
func (e fakeDirEntry) Type() fs.FileMode           { return 0 }
func (e fakeDirEntry) Info() (fs.FileInfo, error)  { return e.info, nil }

var _ io.Reader = (*fakeFile)(nil)
