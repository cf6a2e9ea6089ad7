package dchat

import "strings"

type fileCommand struct {
	addr string
	path string
}

// parseFileCommand recognizes "@<address> <path>". The address ends at the
// first space and the path is everything after it.
func parseFileCommand(line string) (fileCommand, bool) {
	if !strings.HasPrefix(line, "@") {
		return fileCommand{}, false
	}
	addr, path, found := strings.Cut(line[1:], " ")
	if !found || addr == "" || path == "" {
		return fileCommand{}, false
	}
	return fileCommand{addr: addr, path: path}, true
}
