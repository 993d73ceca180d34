// Package webdav serves the package filesystem read-only over WebDAV.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/net/webdav"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
)

// Filesystem is the address-level filesystem being served; *vfs.Engine
// implements it.
type Filesystem interface {
	Stat(ctx context.Context, uri string) *models.FileStat
	ReadFile(ctx context.Context, uri string) (string, bool)
	ReadDirectory(ctx context.Context, uri string) []models.DirEntry
}

// FS adapts a Filesystem rooted at an address prefix to webdav.FileSystem.
type FS struct {
	fsys Filesystem
	root string
}

var _ webdav.FileSystem = (*FS)(nil)

// NewFS serves fsys with root (e.g. "/node_modules") as "/".
func NewFS(fsys Filesystem, root string) *FS {
	return &FS{fsys: fsys, root: strings.TrimSuffix(root, "/")}
}

func normalizePath(name string) string {
	name = path.Clean("/" + name)
	return name
}

func (fs *FS) uri(name string) string {
	if name == "/" {
		return fs.root
	}
	return fs.root + name
}

// Mkdir is not supported.
func (fs *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

// RemoveAll is not supported.
func (fs *FS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

// Rename is not supported.
func (fs *FS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

// Stat returns file info for a path.
func (fs *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	name = normalizePath(name)
	if name == "/" {
		return &fileInfo{name: "/", isDir: true}, nil
	}

	st := fs.fsys.Stat(ctx, fs.uri(name))
	if st == nil {
		return nil, os.ErrNotExist
	}
	return &fileInfo{
		name:    path.Base(name),
		size:    st.Size,
		isDir:   st.IsDir(),
		modTime: st.Mtime,
	}, nil
}

// OpenFile opens name for reading. Any write flag fails with
// os.ErrPermission.
func (fs *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}

	info, err := fs.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	name = normalizePath(name)
	f := &File{fs: fs, ctx: ctx, name: name, info: info.(*fileInfo)}

	if !info.IsDir() {
		text, ok := fs.fsys.ReadFile(ctx, fs.uri(name))
		if !ok {
			return nil, os.ErrNotExist
		}
		f.reader = bytes.NewReader([]byte(text))
	}
	return f, nil
}

// File implements webdav.File over an in-memory text or a directory.
type File struct {
	fs   *FS
	ctx  context.Context
	name string
	info *fileInfo

	reader  *bytes.Reader
	entries []os.FileInfo
	listed  bool
	pos     int
}

var _ webdav.File = (*File)(nil)

func (f *File) Close() error { return nil }

func (f *File) Read(p []byte) (int, error) {
	if f.reader == nil {
		return 0, errors.New("is a directory")
	}
	return f.reader.Read(p)
}

func (f *File) Write(p []byte) (int, error) {
	return 0, os.ErrPermission
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.reader == nil {
		if offset == 0 && whence == io.SeekStart {
			f.pos = 0
			return 0, nil
		}
		return 0, errors.New("is a directory")
	}
	return f.reader.Seek(offset, whence)
}

// Readdir follows os.File.Readdir: count > 0 returns at most count entries
// and io.EOF once exhausted; count <= 0 returns all remaining entries.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.info.isDir {
		return nil, errors.New("not a directory")
	}
	if !f.listed {
		f.entries = f.list()
		f.listed = true
	}

	rest := f.entries[f.pos:]
	if count <= 0 {
		f.pos = len(f.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if len(rest) > count {
		rest = rest[:count]
	}
	f.pos += len(rest)
	return rest, nil
}

func (f *File) list() []os.FileInfo {
	dirURI := f.fs.uri(f.name)
	var infos []os.FileInfo
	for _, e := range f.fs.fsys.ReadDirectory(f.ctx, dirURI) {
		fi := &fileInfo{name: e.Name, isDir: e.Type == models.TypeDirectory}
		if !fi.isDir {
			if st := f.fs.fsys.Stat(f.ctx, dirURI+"/"+e.Name); st != nil {
				fi.size = st.Size
				fi.modTime = st.Mtime
			}
		}
		infos = append(infos, fi)
	}
	return infos
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.info, nil
}

// fileInfo implements os.FileInfo.
type fileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) Sys() interface{}   { return nil }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.isDir {
		return os.ModeDir | 0555
	}
	return 0444
}
