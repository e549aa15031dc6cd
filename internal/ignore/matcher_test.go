package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"exact file", "secret.txt", "secret.txt", false, true},
		{"file in subdir", "secret.txt", "sub/secret.txt", false, true},
		{"star extension", "*.log", "app.log", false, true},
		{"star extension nested", "*.log", "logs/app.log", false, true},
		{"star no match", "*.log", "app.go", false, false},
		{"question mark", "file?.txt", "file1.txt", false, true},
		{"question mark no slash", "file?.txt", "filex/.txt", false, false},
		{"char class", "file[0-9].txt", "file7.txt", false, true},
		{"char class miss", "file[0-9].txt", "filea.txt", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher()
			m.Add(tt.pattern)
			assert.Equal(t, tt.want, m.Ignores(tt.path, tt.isDir))
		})
	}
}

func TestDirectoryOnlyPatterns(t *testing.T) {
	m := NewMatcher()
	m.Add("temp/")

	assert.True(t, m.Ignores("temp", true))
	assert.False(t, m.Ignores("temp", false), "dir-only must not match a plain file")
	assert.True(t, m.Ignores("temp/file.go", false), "files inside the dir match")
	assert.True(t, m.Ignores("sub/temp/file.go", false))
}

func TestAnchoredPatterns(t *testing.T) {
	m := NewMatcher()
	m.Add("/build")

	assert.True(t, m.Ignores("build", true))
	assert.False(t, m.Ignores("sub/build", true), "anchored pattern only matches at root")
}

func TestInternalSlashAnchors(t *testing.T) {
	m := NewMatcher()
	m.Add("doc/frotz")

	assert.True(t, m.Ignores("doc/frotz", true))
	assert.False(t, m.Ignores("a/doc/frotz", true))
}

func TestNegation(t *testing.T) {
	m := NewMatcher()
	m.Add("*.log", "!keep.log")

	assert.True(t, m.Ignores("app.log", false))
	assert.False(t, m.Ignores("keep.log", false))
}

func TestNegationOrderMatters(t *testing.T) {
	m := NewMatcher()
	m.Add("!keep.log", "*.log")

	// Last matching rule wins.
	assert.True(t, m.Ignores("keep.log", false))
}

func TestDoubleStarPatterns(t *testing.T) {
	m := NewMatcher()
	m.Add("**/generated")

	assert.True(t, m.Ignores("generated", true))
	assert.True(t, m.Ignores("a/b/generated", true))

	m2 := NewMatcher()
	m2.Add("docs/**")
	assert.True(t, m2.Ignores("docs/a/b.md", false))
}

func TestCommentsAndBlanksSkipped(t *testing.T) {
	m := NewMatcher()
	m.Add("# comment", "", "  ", "real.txt")

	assert.Equal(t, []string{"real.txt"}, m.Patterns())
}

func TestEscapedHash(t *testing.T) {
	m := NewMatcher()
	m.Add(`\#literal`)

	assert.True(t, m.Ignores("#literal", false))
}

func TestDuplicatesDropped(t *testing.T) {
	m := NewMatcher()
	m.Add("*.log", "node_modules/", "*.log")

	assert.Equal(t, []string{"*.log", "node_modules/"}, m.Patterns())
}

func TestInvalidPatternNotFatal(t *testing.T) {
	m := NewMatcher()
	m.Add("[unclosed", "*.log")

	// The valid pattern still works; nothing panics.
	assert.True(t, m.Ignores("x.log", false))
}

func TestWindowsSeparatorsNormalized(t *testing.T) {
	m := NewMatcher()
	m.Add("sub/secret.txt")

	assert.True(t, m.Ignores("sub/secret.txt", false))
}
