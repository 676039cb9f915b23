package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{KiB, "1.00KiB"},
		{1536, "1.50KiB"},
		{8 * MiB, "8.00MiB"},
		{3 * GiB, "3.00GiB"},
		{2 * TiB, "2.00TiB"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.String())
	}
}
