// Package file provides file tree utilities shared by the host and the guest,
// mainly tar streaming of paths.
package file

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for archive entries that would be written outside of the destination.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Tar writes src (a file or a directory tree) to w as a tar stream. Entries are
// rooted at the base name of src.
func Tar(ctx context.Context, w io.Writer, src string) error {
	src = filepath.Clean(src)
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("could not stat %s: %w", src, err)
	}

	tw := tar.NewWriter(w)
	parent := filepath.Dir(src)

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("could not create header for %s: %w", path, err)
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("could not write header for %s: %w", path, err)
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("could not archive %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return tw.Close()
}

// ExtractOpts configures an extraction.
type ExtractOpts struct {
	// AllowExternalLinks accepts symlinks that point outside of the destination,
	// absolute ones included. Root filesystems and guest side copies need them.
	AllowExternalLinks bool
}

// ExtractInto extracts the root filesystem tar stream r inside dir, entry names
// are relative to dir. Symlinks are stored as is, they point inside the guest.
func ExtractInto(r io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create %s: %w", dir, err)
	}
	return extract(r, dir, "", ExtractOpts{AllowExternalLinks: true})
}

// ExtractAs extracts a tar stream created with Tar following copy semantics: if
// dst is an existing directory the tree is placed inside it, otherwise the
// archived root is renamed to dst.
//
// Extraction never follows symlinks, neither existing ones nor the ones in the
// archive.
func ExtractAs(r io.Reader, dst string, opts ExtractOpts) error {
	dst = filepath.Clean(dst)
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		return extract(r, dst, "", opts)
	}

	parent := filepath.Dir(dst)
	if _, err := os.Stat(parent); err != nil {
		return fmt.Errorf("destination parent %s: %w", parent, err)
	}
	return extract(r, parent, filepath.Base(dst), opts)
}

// extract writes every entry under base. When rename is set the first path
// component of every entry is replaced with it.
func extract(r io.Reader, base, rename string, opts ExtractOpts) error {
	entryPath := func(name string) string {
		if rename == "" {
			return name
		}
		_, rest, _ := strings.Cut(strings.TrimPrefix(name, "./"), "/")
		return filepath.Join(rename, rest)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read archive: %w", err)
		}

		target, err := safeJoin(base, entryPath(hdr.Name))
		if err != nil {
			return err
		}
		if target == base {
			continue
		}
		if err := checkNoSymlinkParents(base, target); err != nil {
			return err
		}
		mode := fs.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if info, err := os.Lstat(target); err == nil && !info.IsDir() {
				if err := os.Remove(target); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := writeFile(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if !opts.AllowExternalLinks {
				if err := checkLinkTarget(base, target, hdr.Linkname); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("hardlink %q -> %q: %w", hdr.Name, hdr.Linkname, ErrUnsafePath)
			}
			src, err := safeJoin(base, entryPath(hdr.Linkname))
			if err != nil {
				return err
			}
			if err := checkNoSymlinkParents(base, src); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return err
			}
		default:
			// Devices, fifos and the like can't be created unprivileged.
			continue
		}
	}
}

// writeFile creates a new file at path, an existing entry (symlinks included) is
// replaced instead of written through.
func writeFile(path string, r io.Reader, mode fs.FileMode) error {
	_ = os.Remove(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	return f.Close()
}

func safeJoin(base, name string) (string, error) {
	if filepath.IsAbs(name) {
		name = strings.TrimLeft(name, "/")
	}
	target := filepath.Join(base, name)
	if !within(base, target) {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafePath)
	}
	return target, nil
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// checkNoSymlinkParents fails when a directory between base and target is a
// symlink, writing there would land wherever the link points.
func checkNoSymlinkParents(base, target string) error {
	rel, err := filepath.Rel(base, filepath.Dir(target))
	if err != nil {
		return fmt.Errorf("%q: %w", target, ErrUnsafePath)
	}
	if rel == "." {
		return nil
	}

	cur := base
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%q is a symlink: %w", cur, ErrUnsafePath)
		}
	}
	return nil
}

// checkLinkTarget fails for symlinks that are absolute or resolve outside of base.
func checkLinkTarget(base, link, linkname string) error {
	if filepath.IsAbs(linkname) || !within(base, filepath.Join(filepath.Dir(link), linkname)) {
		return fmt.Errorf("symlink %q -> %q: %w", link, linkname, ErrUnsafePath)
	}
	return nil
}

// DirSize returns the apparent size of every regular file under path.
func DirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}
