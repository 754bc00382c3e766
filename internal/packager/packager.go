// Package packager bundles a skill directory into a zstd compressed tar
// archive and optionally uploads it to S3.
package packager

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/programme-lv/skillfactory/api"
)

const (
	Ext          = ".skill"
	ManifestName = "manifest.json"
	s3Prefix     = "skills/"
)

// directories produced by dependency installs, never bundled
var skippedDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".git":         true,
}

type Manifest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      api.Status `json:"status"`
	PackagedAt  time.Time  `json:"packaged_at"`
	Files       []string   `json:"files"`
}

// Uploader is the part of *s3.Client the packager needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ Uploader = (*s3.Client)(nil)

type Packager struct {
	outDir string
	bucket string
	s3     Uploader
	logger *slog.Logger
}

type Option func(*Packager)

// WithS3 uploads every bundle to bucket under skills/<name>.skill.
func WithS3(client Uploader, bucket string) Option {
	return func(p *Packager) {
		p.s3 = client
		p.bucket = bucket
	}
}

// New writes bundles to outDir.
func New(outDir string, logger *slog.Logger, opts ...Option) *Packager {
	p := &Packager{outDir: outDir, logger: logger.With("component", "packager")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Package archives dir as <outDir>/<name>.skill and returns its path.
func (p *Packager) Package(ctx context.Context, dir string, name string, status api.Status) (string, error) {
	files, err := listFiles(dir)
	if err != nil {
		return "", err
	}

	m := Manifest{Name: name, Status: status, PackagedAt: time.Now().UTC(), Files: files}
	if doc, err := os.ReadFile(filepath.Join(dir, "SKILL.md")); err == nil {
		fm, err := ParseFrontmatter(doc)
		if err != nil {
			p.logger.Warn("unreadable SKILL.md frontmatter", "skill", name, "error", err)
		}
		if fm.Name != "" {
			m.Name = fm.Name
		}
		m.Description = fm.Description
	}

	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create bundle dir: %w", err)
	}
	dst := filepath.Join(p.outDir, name+Ext)
	tmp, err := os.CreateTemp(p.outDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create bundle: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeBundle(tmp, dir, name, m); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("move bundle: %w", err)
	}
	p.logger.Info("skill packaged", "skill", name, "path", dst, "files", len(files))

	if p.s3 != nil {
		if err := p.upload(ctx, dst, name); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func (p *Packager) upload(ctx context.Context, bundle string, name string) error {
	f, err := os.Open(bundle)
	if err != nil {
		return err
	}
	defer f.Close()

	key := s3Prefix + name + Ext
	_, err = p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3 bucket %s: %w", key, p.bucket, err)
	}
	p.logger.Info("skill uploaded", "skill", name, "bucket", p.bucket, "key", key)
	return nil
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return files, nil
}

func writeBundle(w io.Writer, dir string, name string, m Manifest) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	err = tw.WriteHeader(&tar.Header{
		Name:    path.Join(name, ManifestName),
		Mode:    0o644,
		Size:    int64(len(manifest)),
		ModTime: m.PackagedAt,
	})
	if err != nil {
		return err
	}
	if _, err := tw.Write(manifest); err != nil {
		return err
	}

	for _, rel := range m.Files {
		if err := addFile(tw, filepath.Join(dir, filepath.FromSlash(rel)), path.Join(name, rel)); err != nil {
			return err
		}
	}

	return errors.Join(tw.Close(), zw.Close())
}

func addFile(tw *tar.Writer, src string, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

// Open reads the manifest and the entry names of a bundle.
func Open(bundle string) (Manifest, []string, error) {
	var m Manifest
	f, err := os.Open(bundle)
	if err != nil {
		return m, nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return m, nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var names []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return m, nil, fmt.Errorf("read %s: %w", bundle, err)
		}
		names = append(names, hdr.Name)
		if path.Base(hdr.Name) == ManifestName && len(names) == 1 {
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return m, nil, fmt.Errorf("decode manifest: %w", err)
			}
		}
	}
	return m, names, nil
}
