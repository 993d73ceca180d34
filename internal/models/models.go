// Package models contains data types shared by the filesystem, the fetchers
// and the host.
package models

import "time"

// FileEntry is one row of a package's flat file listing.
// Name is relative to the package root and always starts with "/".
type FileEntry struct {
	Name string    `json:"name"`
	Size int64     `json:"size"`
	Time time.Time `json:"time"`
	Hash string    `json:"hash"`
}

// Listing is the flat listing document served by the registry CDN.
type Listing struct {
	Default string      `json:"default,omitempty"`
	Files   []FileEntry `json:"files"`
}

// FileType distinguishes files from directories.
type FileType int

const (
	TypeFile FileType = iota + 1
	TypeDirectory
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// FileStat describes a file or directory. Directories carry zero size and
// zero times.
type FileStat struct {
	Type  FileType
	Size  int64
	Ctime time.Time
	Mtime time.Time
}

// IsFile reports whether the stat describes a regular file.
func (s *FileStat) IsFile() bool {
	return s != nil && s.Type == TypeFile
}

// IsDir reports whether the stat describes a directory.
func (s *FileStat) IsDir() bool {
	return s != nil && s.Type == TypeDirectory
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name string
	Type FileType
}
