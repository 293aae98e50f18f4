package vfs

import (
	"fmt"
	"io/fs"
	"time"
)

const listDate = "Jan 02 15:04"
const mlsdDate = "20060102150405"

// ListLine renders one LIST entry in the conventional unix-ls shape.
func ListLine(info fs.FileInfo) string {
	perms := "-rw-r--r--"
	size := info.Size()
	if info.IsDir() {
		perms = "drwxr-xr-x"
		size = 0
	}
	return fmt.Sprintf("%s 1 user group %8d %s %s",
		perms, size, info.ModTime().Format(listDate), info.Name())
}

// VirtualDirLine renders a LIST entry for a directory that exists only
// in the virtual namespace, such as a granting owner's home.
func VirtualDirLine(name string) string {
	return fmt.Sprintf("drwxr-xr-x 1 user group %8d %s %s",
		0, time.Now().Format(listDate), name)
}

// MLSDLine renders one MLSD fact line. Timestamps are UTC.
func MLSDLine(info fs.FileInfo) string {
	typ := "file"
	size := info.Size()
	if info.IsDir() {
		typ = "dir"
		size = 0
	}
	return fmt.Sprintf("type=%s;modify=%s;size=%d; %s",
		typ, info.ModTime().UTC().Format(mlsdDate), size, info.Name())
}
