package storage

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Archiver packs a finished run directory.
type Archiver interface {
	// Archive packs dir and returns the archive path. dir is removed on success.
	Archive(dir string) (string, error)
}

// TarGzArchiver writes dir to dir+".tar.gz".
type TarGzArchiver struct {
	// Level is the gzip level. Zero means gzip.DefaultCompression.
	Level int
}

// Archive implements Archiver. On failure the partial archive is removed
// and dir is left untouched.
func (a TarGzArchiver) Archive(dir string) (string, error) {
	dir = filepath.Clean(dir)
	target := dir + ".tar.gz"

	if err := a.write(dir, target); err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return target, fmt.Errorf("archive created but failed to remove %s: %w", dir, err)
	}
	return target, nil
}

func (a TarGzArchiver) write(dir, target string) (err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	level := a.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		return fmt.Errorf("invalid compression level: %w", err)
	}
	tw := tar.NewWriter(gz)

	root := filepath.Dir(dir)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return addEntry(tw, root, path, d)
	})
	if walkErr != nil {
		return fmt.Errorf("failed to archive %s: %w", dir, walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

// addEntry writes one file or directory. Names are relative to root so the
// archive unpacks into the run directory's own name.
func addEntry(tw *tar.Writer, root, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	src, err := os.Open(path) //nolint:gosec // path comes from walking our own run directory
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}
