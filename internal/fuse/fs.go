// Package fuse mounts the package filesystem read-only with go-fuse.
package fuse

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/pkgpath"
)

// Extended attributes exposed on every node.
const (
	XattrPackage = "user.cdnfs.package"
	XattrVersion = "user.cdnfs.version"
	XattrPath    = "user.cdnfs.path"
)

var xattrNames = []string{XattrPackage, XattrVersion, XattrPath}

// Filesystem is the address-level filesystem being mounted; *vfs.Engine
// implements it.
type Filesystem interface {
	Stat(ctx context.Context, uri string) *models.FileStat
	ReadFile(ctx context.Context, uri string) (string, bool)
	ReadDirectory(ctx context.Context, uri string) []models.DirEntry
}

// Config holds mount configuration.
type Config struct {
	// Root is the address the mount point shows, e.g. "/node_modules".
	Root string
	// Timeout bounds each filesystem operation.
	Timeout    time.Duration
	AllowOther bool
	Debug      bool
}

// CdnFS is the mountable filesystem.
type CdnFS struct {
	fsys Filesystem
	cfg  Config
	log  *zap.Logger
}

// New creates a mountable filesystem over fsys.
func New(fsys Filesystem, cfg Config) *CdnFS {
	cfg.Root = strings.TrimSuffix(cfg.Root, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CdnFS{
		fsys: fsys,
		cfg:  cfg,
		log:  logging.Named("fuse"),
	}
}

// Root returns the root node.
func (f *CdnFS) Root() *Node {
	return &Node{
		fsys: f,
		uri:  f.cfg.Root,
		stat: &models.FileStat{Type: models.TypeDirectory},
	}
}

// Mount mounts the filesystem at mountPoint.
func (f *CdnFS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: f.cfg.AllowOther,
			Debug:      f.cfg.Debug,
			FsName:     "cdnfs",
			Name:       "cdnfs",
			Options:    []string{"ro"},
		},
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, f.Root(), opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	f.log.Info("mounted", zap.String("mount_point", mountPoint), zap.String("root", f.cfg.Root))
	return server, nil
}

func (f *CdnFS) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.cfg.Timeout)
}

// Node is a file or directory.
type Node struct {
	fs.Inode

	fsys *CdnFS
	uri  string
	rel  string
	stat *models.FileStat
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeGetxattrer = (*Node)(nil)
var _ fs.NodeListxattrer = (*Node)(nil)

func fillAttr(st *models.FileStat, out *gofuse.Attr) {
	if st.IsDir() {
		out.Mode = 0555 | syscall.S_IFDIR
	} else {
		out.Mode = 0444 | syscall.S_IFREG
	}
	out.Size = uint64(st.Size)
	out.Mtime = uint64(st.Mtime.Unix())
	out.Ctime = uint64(st.Ctime.Unix())
	out.Atime = out.Mtime
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
}

// Getattr returns file attributes.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	if n.stat == nil {
		return syscall.ENOENT
	}
	fillAttr(n.stat, &out.Attr)
	return 0
}

// child resolves name below n without attaching it to the tree.
func (n *Node) child(ctx context.Context, name string) (*Node, syscall.Errno) {
	if !n.stat.IsDir() {
		return nil, syscall.ENOTDIR
	}
	ctx, cancel := n.fsys.opContext(ctx)
	defer cancel()

	uri := n.uri + "/" + name
	st := n.fsys.fsys.Stat(ctx, uri)
	if st == nil {
		return nil, syscall.ENOENT
	}
	rel := name
	if n.rel != "" {
		rel = n.rel + "/" + name
	}
	return &Node{fsys: n.fsys, uri: uri, rel: rel, stat: st}, 0
}

// Lookup finds a child by name.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, errno := n.child(ctx, name)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(child.stat, &out.Attr)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Mode}), 0
}

// Readdir lists directory contents.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := n.entries(ctx)
	if errno != 0 {
		return nil, errno
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) entries(ctx context.Context) ([]gofuse.DirEntry, syscall.Errno) {
	if !n.stat.IsDir() {
		return nil, syscall.ENOTDIR
	}
	ctx, cancel := n.fsys.opContext(ctx)
	defer cancel()

	list := n.fsys.fsys.ReadDirectory(ctx, n.uri)
	entries := make([]gofuse.DirEntry, 0, len(list))
	for _, e := range list {
		mode := uint32(syscall.S_IFREG)
		if e.Type == models.TypeDirectory {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, gofuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return entries, 0
}

// FileHandle holds the whole text of an opened file.
type FileHandle struct {
	data []byte
}

var _ fs.FileHandle = (*FileHandle)(nil)

// Open reads the file into memory. Write opens fail with EROFS.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_APPEND|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	if n.stat.IsDir() {
		return nil, 0, syscall.EISDIR
	}
	ctx, cancel := n.fsys.opContext(ctx)
	defer cancel()

	text, ok := n.fsys.fsys.ReadFile(ctx, n.uri)
	if !ok {
		n.fsys.log.Debug("open failed", zap.String("path", n.rel))
		return nil, 0, syscall.ENOENT
	}
	return &FileHandle{data: []byte(text)}, gofuse.FOPEN_KEEP_CACHE, 0
}

// Read reads file content.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	handle, ok := fh.(*FileHandle)
	if !ok {
		return nil, syscall.EIO
	}
	if off >= int64(len(handle.data)) {
		return gofuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(handle.data)) {
		end = int64(len(handle.data))
	}
	return gofuse.ReadResultData(handle.data[off:end]), 0
}

func (n *Node) xattr(attr string) (string, bool) {
	c := pkgpath.Resolve(n.rel)
	switch attr {
	case XattrPackage:
		return c.PackageName, c.HasPackage
	case XattrVersion:
		return c.Version, c.Version != ""
	case XattrPath:
		return n.rel, n.rel != ""
	}
	return "", false
}

// Getxattr returns extended attribute value.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, ok := n.xattr(attr)
	if !ok {
		return 0, syscall.ENODATA
	}

	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return 0, syscall.ERANGE
	}

	copy(dest, value)
	return uint32(len(value)), 0
}

// Listxattr lists the extended attributes present on the node.
func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	var buf []byte
	for _, attr := range xattrNames {
		if _, ok := n.xattr(attr); ok {
			buf = append(buf, attr...)
			buf = append(buf, 0)
		}
	}

	if len(dest) == 0 {
		return uint32(len(buf)), 0
	}
	if len(dest) < len(buf) {
		return 0, syscall.ERANGE
	}

	copy(dest, buf)
	return uint32(len(buf)), 0
}
