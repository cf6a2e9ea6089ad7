package dchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFileCommand(t *testing.T) {
	tests := []struct {
		line string
		want fileCommand
		ok   bool
	}{
		{"@192.0.2.5 report.txt", fileCommand{addr: "192.0.2.5", path: "report.txt"}, true},
		{"@192.0.2.5 my report.txt", fileCommand{addr: "192.0.2.5", path: "my report.txt"}, true},
		{"@fe80::1 /tmp/a", fileCommand{addr: "fe80::1", path: "/tmp/a"}, true},
		{"@192.0.2.5", fileCommand{}, false},
		{"@192.0.2.5 ", fileCommand{}, false},
		{"@ report.txt", fileCommand{}, false},
		{"hello @192.0.2.5 x", fileCommand{}, false},
		{"", fileCommand{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseFileCommand(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
