package host

import "strings"

// riskyPatterns are substrings that suggest a script is reaching outside
// the scene capabilities. The bridge runs in full trust mode: matches are
// logged and counted, never blocked. The sandbox itself is what actually
// withholds filesystem and process access.
var riskyPatterns = []string{
	"os.",
	"io.",
	"load(",
	"loadstring",
	"dofile",
	"require",
	"while true",
}

// ScanScript returns the risky patterns present in the script, if any.
func ScanScript(script string) []string {
	var found []string
	for _, pat := range riskyPatterns {
		if strings.Contains(script, pat) {
			found = append(found, pat)
		}
	}
	return found
}
