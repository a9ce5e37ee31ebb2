package textclean

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "   ", ""},
		{"plain", "hello   world", "hello world"},
		{"tags", "<p>Biến <b>và</b>\n kiểu</p>", "Biến và kiểu"},
		{"scripts removed", "<div>keep<script>var x = 1;</script><style>p{}</style></div>", "keep"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "h\u00e9", Truncate("h\u00e9llo", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
