package packager_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/packager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const skillDoc = `---
name: httpx-client
description: Async HTTP requests with httpx. Use this skill when you need to call REST APIs.
---

# httpx-client
`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSkill(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "httpx-client")
	files := map[string]string{
		"SKILL.md":                        skillDoc,
		"scripts/demo.py":                 "import httpx\n",
		"scripts/requirements.txt":        "httpx==0.27.0\n",
		"references/research.md":          "# notes\n",
		"scripts/node_modules/x/index.js": "ignored",
		"scripts/__pycache__/demo.pyc":    "ignored",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestPackage_BundleWithManifest(t *testing.T) {
	root := t.TempDir()
	dir := writeSkill(t, root)

	p := packager.New(root, discard())
	bundle, err := p.Package(context.Background(), dir, "httpx-client", api.Success)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "httpx-client.skill"), bundle)

	m, names, err := packager.Open(bundle)
	require.NoError(t, err)
	assert.Equal(t, "httpx-client", m.Name)
	assert.Contains(t, m.Description, "Async HTTP requests")
	assert.Equal(t, api.Success, m.Status)
	assert.Equal(t, []string{
		"SKILL.md",
		"references/research.md",
		"scripts/demo.py",
		"scripts/requirements.txt",
	}, m.Files)
	assert.Equal(t, []string{
		"httpx-client/manifest.json",
		"httpx-client/SKILL.md",
		"httpx-client/references/research.md",
		"httpx-client/scripts/demo.py",
		"httpx-client/scripts/requirements.txt",
	}, names)

	leftovers, err := filepath.Glob(filepath.Join(root, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPackage_WithoutSkillDoc(t *testing.T) {
	root := t.TempDir()
	dir := writeSkill(t, root)
	require.NoError(t, os.Remove(filepath.Join(dir, "SKILL.md")))

	bundle, err := packager.New(root, discard()).Package(context.Background(), dir, "httpx-client", api.PartialSuccess)
	require.NoError(t, err)

	m, _, err := packager.Open(bundle)
	require.NoError(t, err)
	assert.Equal(t, "httpx-client", m.Name)
	assert.Empty(t, m.Description)
	assert.Equal(t, api.PartialSuccess, m.Status)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, f.err
}

func TestPackage_UploadsToS3(t *testing.T) {
	root := t.TempDir()
	dir := writeSkill(t, root)
	client := &fakeS3{}

	bundle, err := packager.New(root, discard(), packager.WithS3(client, "skills-bucket")).
		Package(context.Background(), dir, "httpx-client", api.Success)
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "skills-bucket", aws.ToString(client.input.Bucket))
	assert.Equal(t, "skills/httpx-client.skill", aws.ToString(client.input.Key))
	onDisk, err := os.ReadFile(bundle)
	require.NoError(t, err)
	assert.Equal(t, onDisk, client.body)

	client.err = errors.New("access denied")
	_, err = packager.New(root, discard(), packager.WithS3(client, "skills-bucket")).
		Package(context.Background(), dir, "httpx-client", api.Success)
	require.ErrorContains(t, err, "access denied")
}

func TestParseFrontmatter(t *testing.T) {
	fm, err := packager.ParseFrontmatter([]byte(skillDoc))
	require.NoError(t, err)
	assert.Equal(t, "httpx-client", fm.Name)

	fm, err = packager.ParseFrontmatter([]byte("---\r\nname: crlf\r\n---\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "crlf", fm.Name)

	_, err = packager.ParseFrontmatter([]byte("# no frontmatter"))
	require.ErrorIs(t, err, packager.ErrNoFrontmatter)

	_, err = packager.ParseFrontmatter([]byte("---\nname: open\n"))
	require.ErrorIs(t, err, packager.ErrNoFrontmatter)
}
