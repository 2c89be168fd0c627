package backend

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Tar helpers for the docker backend. The engine's copy endpoints speak tar
// streams; these build and unpack them with the directory-contents semantics
// the Backend contract requires.

func remoteBase(remotePath string) string {
	return path.Base(strings.TrimSuffix(remotePath, "/"))
}

func remoteParent(remotePath string) string {
	parent := path.Dir(strings.TrimSuffix(remotePath, "/"))
	if parent == "" {
		return "/"
	}
	return parent
}

// tarFile archives one local file under the given entry name.
func tarFile(localPath, name string) (io.Reader, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return nil, err
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// tarDirectory archives the contents of a local directory with entry names
// relative to the directory root, so unpacking lands them directly in the
// destination.
func tarDirectory(localDir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// untarInto unpacks a tar stream into dstDir, stripping the leading
// stripPrefix path component the engine adds for the copied directory.
func untarInto(r io.Reader, dstDir, stripPrefix string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := header.Name
		if stripPrefix != "" {
			name = strings.TrimPrefix(name, stripPrefix)
			name = strings.TrimPrefix(name, "/")
		}
		if name == "" {
			continue
		}
		target := filepath.Join(dstDir, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(os.PathSeparator)) && target != filepath.Clean(dstDir) {
			return fmt.Errorf("tar entry %q escapes destination", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		case tar.TypeSymlink:
			// The link target must stay inside the destination too
			linkDest := header.Linkname
			if !filepath.IsAbs(linkDest) {
				linkDest = filepath.Join(filepath.Dir(target), linkDest)
			}
			linkDest = filepath.Clean(linkDest)
			if !strings.HasPrefix(linkDest, filepath.Clean(dstDir)+string(os.PathSeparator)) && linkDest != filepath.Clean(dstDir) {
				return fmt.Errorf("tar entry %q links outside destination", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
}

// untarSingleFile unpacks a single-file tar stream to localPath. When
// localPath is an existing directory, the file keeps its archived name
// inside it.
func untarSingleFile(r io.Reader, localPath string) error {
	tr := tar.NewReader(r)
	header, err := tr.Next()
	if err != nil {
		return err
	}

	target := localPath
	if info, statErr := os.Stat(localPath); statErr == nil && info.IsDir() {
		target = filepath.Join(localPath, path.Base(header.Name))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, tr)
	return err
}
