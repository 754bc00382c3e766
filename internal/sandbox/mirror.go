package sandbox

import "strings"

// WithMirror rewrites an unqualified Docker Hub image (e.g. python:3.10-slim)
// to be pulled through mirror as <mirror>/library/<image>. Images whose
// first path segment names a registry host, and namespaced images, are
// returned unchanged, so applying it twice is a no-op.
func WithMirror(image, mirror string) string {
	mirror = strings.TrimPrefix(mirror, "https://")
	mirror = strings.TrimPrefix(mirror, "http://")
	mirror = strings.TrimRight(mirror, "/")
	if mirror == "" {
		return image
	}

	if strings.Contains(image, "/") {
		return image
	}
	return mirror + "/library/" + image
}
