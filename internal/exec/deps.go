package exec

import (
	"regexp"
	"strings"
)

// Dependency declaration headers, one line each, anywhere in the source:
//
//	# requirements: pkg1 pkg2==1.2    (hash optional)
//	// dependencies: pkg1 pkg2       (slashes optional)
//
// Only the first match of each kind counts.
var (
	pythonReqRe = regexp.MustCompile(`(?im)^[ \t]*#?\s*requirements\s*:\s*(.+)$`)
	jsDepRe     = regexp.MustCompile(`(?im)^[ \t]*(?://)?\s*dependencies\s*:\s*(.+)$`)
)

// StripDepHeaders extracts declared package lists from the source and
// removes the header lines from the text that will be written to disk, so
// interpreters never see them. Pure preprocessing: nothing is executed.
func StripDepHeaders(source string) (cleaned string, pythonPkgs, jsPkgs []string) {
	cleaned = source
	cleaned, pythonPkgs = stripFirst(cleaned, pythonReqRe)
	cleaned, jsPkgs = stripFirst(cleaned, jsDepRe)
	return cleaned, pythonPkgs, jsPkgs
}

func stripFirst(source string, re *regexp.Regexp) (string, []string) {
	loc := re.FindStringSubmatchIndex(source)
	if loc == nil {
		return source, nil
	}
	pkgs := strings.Fields(strings.TrimSpace(source[loc[2]:loc[3]]))
	return source[:loc[0]] + source[loc[1]:], pkgs
}
