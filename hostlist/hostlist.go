// Package hostlist parses pssh-style host files and host-group files into
// (host, port, user) triples. It is a pure text-to-triples component with
// no dependency on the scheduler; Manager/exectask consume its output.
package hostlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Entry is a parsed host-file line: the canonical (host, port, user)
// triple spec.md §6 requires, with Port/User left empty when unset (the
// Go analogue of the source's None sentinel).
type Entry struct {
	Host string
	Port string
	User string
}

// Diagnostic is a non-fatal parse failure: the offending line and a
// human-readable reason, mirroring the source's "write to stderr and drop
// the line" error handling (spec.md §7) instead of aborting the whole
// file.
type Diagnostic struct {
	Line   string
	Reason string
}

func (d Diagnostic) Error() string { return fmt.Sprintf("%s: %q", d.Reason, d.Line) }

// ParseHost parses a bare "[user@]host[:port]" token, applying
// defaultUser/defaultPort when the token doesn't specify them.
func ParseHost(token, defaultUser, defaultPort string) Entry {
	e := Entry{User: defaultUser, Port: defaultPort}
	host := token
	if at := strings.IndexByte(host, '@'); at >= 0 {
		e.User = host[:at]
		host = host[at+1:]
	}
	if colon := strings.LastIndexByte(host, ':'); colon >= 0 {
		e.Port = host[colon+1:]
		host = host[:colon]
	}
	e.Host = host
	return e
}

// ParseHostEntry parses a single host-file line, recognising both
// supported grammars: "[user@]host[:port]" alone, or followed by
// whitespace and a second field naming the user (only legal when the
// first form left the user unset). Returns a Diagnostic, never an error
// wrapping it, so callers can log-and-drop exactly as spec.md §7 requires.
func ParseHostEntry(line, defaultUser, defaultPort string) (Entry, *Diagnostic) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Entry{}, nil
	}
	if len(fields) > 2 {
		return Entry{}, &Diagnostic{Line: line, Reason: "Bad line: format should be [user@]host[:port] [user]"}
	}

	e := ParseHost(fields[0], "", defaultPort)
	if len(fields) == 2 {
		if e.User != "" {
			return Entry{}, &Diagnostic{Line: line, Reason: "User specified twice"}
		}
		e.User = fields[1]
	}
	if e.User == "" {
		e.User = defaultUser
	}
	return e, nil
}

// FormatHostEntry renders e in the canonical "user@host:port" form used by
// the round-trip property in spec.md §8: ParseHostEntry(FormatHostEntry(e))
// == e for any fully-populated triple.
func FormatHostEntry(e Entry) string {
	var b strings.Builder
	if e.User != "" {
		b.WriteString(e.User)
		b.WriteByte('@')
	}
	b.WriteString(e.Host)
	if e.Port != "" {
		b.WriteByte(':')
		b.WriteString(e.Port)
	}
	return b.String()
}

// ReadHostFile parses every line of the file at path, dropping comments
// (# to end of line) and blank lines, filtering by hostGlob if non-empty
// (matched with path/filepath.Match against the parsed host). Malformed
// lines are collected as Diagnostics rather than aborting the read.
func ReadHostFile(path, hostGlob, defaultUser, defaultPort string) ([]Entry, []Diagnostic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("hostlist: opening host file: %w", err)
	}
	defer f.Close()
	return parseHostLines(f, hostGlob, defaultUser, defaultPort)
}

func parseHostLines(r io.Reader, hostGlob, defaultUser, defaultPort string) ([]Entry, []Diagnostic, error) {
	var entries []Entry
	var diags []Diagnostic

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, diag := ParseHostEntry(line, defaultUser, defaultPort)
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		if entry.Host == "" {
			continue
		}
		if hostGlob != "" {
			matched, err := filepath.Match(hostGlob, entry.Host)
			if err != nil {
				return nil, nil, fmt.Errorf("hostlist: invalid host glob %q: %w", hostGlob, err)
			}
			if !matched {
				continue
			}
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("hostlist: reading host file: %w", err)
	}
	return entries, diags, nil
}

// ReadHostGroups resolves named groups from the host-group file at path
// into the union of their hosts, de-duplicated and sorted lexicographically
// before each member is parsed as a "[user@]host[:port]" token — matching
// spec.md §6's "the union is de-duplicated and sorted" requirement exactly.
//
// File grammar (one reasonable rendering of "~/.config/pssh/hostgroups",
// whose exact syntax the source distribution leaves to a separate module
// not carried into this spec): "[group-name]" section headers, each
// followed by lines until the next header or EOF. Every whitespace-separated
// token on those lines is a separate member; the host-file form with a
// trailing user field is not recognised here.
func ReadHostGroups(path string, groups []string, defaultUser, defaultPort string) ([]Entry, []Diagnostic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("hostlist: opening host-group file: %w", err)
	}
	defer f.Close()

	wanted := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		wanted[g] = struct{}{}
	}

	members := make(map[string]struct{})
	var current string
	inWanted := false

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			_, inWanted = wanted[current]
			continue
		}
		if inWanted {
			for _, tok := range strings.Fields(line) {
				members[tok] = struct{}{}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("hostlist: reading host-group file: %w", err)
	}

	union := maps.Keys(members)
	slices.Sort(union)

	var entries []Entry
	var diags []Diagnostic
	for _, tok := range union {
		entry, diag := ParseHostEntry(tok, defaultUser, defaultPort)
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, diags, nil
}
