package hostlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHostEntry_UserSpecifiedTwice(t *testing.T) {
	_, diag := ParseHostEntry("alice@host.example:2222 bob", "", "")
	require.NotNil(t, diag)
	assert.Equal(t, "User specified twice", diag.Reason)
}

func TestParseHostEntry_TrailingUserField(t *testing.T) {
	e, diag := ParseHostEntry("host.example bob", "", "")
	require.Nil(t, diag)
	assert.Equal(t, Entry{Host: "host.example", Port: "", User: "bob"}, e)
}

func TestParseHostEntry_DefaultUserApplied(t *testing.T) {
	e, diag := ParseHostEntry("host.example:22", "root", "")
	require.Nil(t, diag)
	assert.Equal(t, Entry{Host: "host.example", Port: "22", User: "root"}, e)
}

func TestParseHostEntry_BadLine(t *testing.T) {
	_, diag := ParseHostEntry("a b c", "", "")
	require.NotNil(t, diag)
}

func TestFormatHostEntry_RoundTrip(t *testing.T) {
	cases := []Entry{
		{Host: "host.example", Port: "22", User: "root"},
		{Host: "alpha", Port: "2222", User: "alice"},
	}
	for _, want := range cases {
		formatted := FormatHostEntry(want)
		got, diag := ParseHostEntry(formatted, "", "")
		require.Nil(t, diag)
		assert.Equal(t, want, got)
	}
}

func TestReadHostFile_CommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	content := "# a comment\n\nhost1.example\nhost2.example:2222 bob\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	entries, diags, err := ReadHostFile(path, "", "", "")
	require.NoError(t, err)
	require.Empty(t, diags)
	require.Len(t, entries, 2)
	assert.Equal(t, "host1.example", entries[0].Host)
	assert.Equal(t, "host2.example", entries[1].Host)
	assert.Equal(t, "2222", entries[1].Port)
	assert.Equal(t, "bob", entries[1].User)
}

func TestReadHostFile_GlobFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	content := "web1.example\nweb2.example\ndb1.example\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	entries, _, err := ReadHostFile(path, "web*", "", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "web1.example", entries[0].Host)
	assert.Equal(t, "web2.example", entries[1].Host)
}

func TestReadHostGroups_UnionDedupSorted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostgroups")
	content := "[web]\nweb2.example\nweb1.example\n\n[db]\ndb1.example web1.example\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	entries, diags, err := ReadHostGroups(path, []string{"web", "db"}, "", "")
	require.NoError(t, err)
	require.Empty(t, diags)

	var hosts []string
	for _, e := range entries {
		hosts = append(hosts, e.Host)
	}
	assert.Equal(t, []string{"db1.example", "web1.example", "web2.example"}, hosts)
}
