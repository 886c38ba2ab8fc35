package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseINI(t *testing.T) {
	data := []byte(`
; comment
[/dev/binder]
dialect = aidl2

# another comment
[/dev/hwbinder]
dialect = hidl
`)
	sections, err := ParseINI(data)
	require.NoError(t, err)
	assert.Equal(t, "aidl2", sections["/dev/binder"]["dialect"])
	assert.Equal(t, "hidl", sections["/dev/hwbinder"]["dialect"])
}

func TestParseINIRejectsMalformedLine(t *testing.T) {
	_, err := ParseINI([]byte("not-a-key-value-line"))
	assert.Error(t, err)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	out, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadEmptyPathReturnsEmpty(t *testing.T) {
	out, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadDecodesDeviceSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gobinder.conf")
	require.NoError(t, os.WriteFile(path, []byte("[/dev/binder]\ndialect = aidl\n[/dev/vndbinder]\ndialect = aidl2\n"), 0o644))

	out, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, out, "/dev/binder")
	assert.Equal(t, DialectAidl, out["/dev/binder"].Dialect)
	assert.Equal(t, DialectAidl2, out["/dev/vndbinder"].Dialect)
}

func TestDefaultDialectFor(t *testing.T) {
	assert.Equal(t, DialectHidl, DefaultDialectFor("/dev/hwbinder"))
	assert.Equal(t, DialectAidl, DefaultDialectFor("/dev/binder"))
	assert.Equal(t, DialectAidl, DefaultDialectFor("/dev/vndbinder"))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/explicit/path", ResolvePath("/explicit/path"))

	t.Setenv("GOBINDER_CONFIG", "/from/env")
	assert.Equal(t, "/from/env", ResolvePath(""))
}
