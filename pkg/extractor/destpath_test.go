package extractor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDestPath(t *testing.T) {
	tests := []struct {
		name    string
		member  string
		want    string // relative to root
		wantErr string
	}{
		{
			name:   "top level directory replaced by the archive stem",
			member: "pkg-1.0/pyproject.toml",
			want:   "pkg/pyproject.toml",
		},
		{
			name:   "nested member",
			member: "pkg-1.0/sub/setup.cfg",
			want:   "pkg/sub/setup.cfg",
		},
		{
			name:   "bare member without a directory",
			member: "setup.py",
			want:   "pkg/setup.py",
		},
		{
			name:   "dot segments collapsed inside the archive",
			member: "pkg-1.0/./sub/../setup.py",
			want:   "pkg/setup.py",
		},
		{
			name:    "absolute member path",
			member:  "/etc/passwd",
			wantErr: "absolute member path",
		},
		{
			name:    "leading dot dot",
			member:  "../setup.py",
			wantErr: "escapes the output root",
		},
		{
			name:    "dot dot escaping through the top level directory",
			member:  "pkg-1.0/../../etc/passwd",
			wantErr: "escapes the output root",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := destPath("/out", "pkg", tt.member)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, filepath.Join("/out", tt.want), got)
		})
	}
}
