package upload

import (
	"path"
	"strings"
)

// maxFilenameLen bounds sanitized names so recording keys stay well under the
// 1024-byte S3 key limit.
const maxFilenameLen = 120

// sanitizeFilename reduces a client-supplied filename to a safe object-key
// component: path segments are stripped, separators and shell-hostile
// characters dropped, spaces folded to underscores, leading dots removed.
// The result is never empty; nameless uploads become "upload".
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	s := strings.TrimLeft(b.String(), ".")
	if len(s) > maxFilenameLen {
		ext := path.Ext(s)
		if len(ext) > 16 {
			ext = ""
		}
		s = s[:maxFilenameLen-len(ext)] + ext
	}
	if s == "" {
		return "upload"
	}
	return s
}
