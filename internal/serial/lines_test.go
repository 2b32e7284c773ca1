package serial

import (
	"bufio"
	"reflect"
	"strings"
	"testing"
)

func TestSplitOn(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"abc\r\ndef\r\n", []string{"abc", "", "def", ""}},
		{"abc\ndef", []string{"abc", "def"}},
		{"abc\rdef\r", []string{"abc", "def"}},
		{"", nil},
	}
	for _, tt := range tests {
		sc := bufio.NewScanner(strings.NewReader(tt.in))
		sc.Split(splitOn("\r\n"))
		var got []string
		for sc.Scan() {
			got = append(got, sc.Text())
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("split %q = %q, want %q", tt.in, got, tt.want)
		}
	}
}
