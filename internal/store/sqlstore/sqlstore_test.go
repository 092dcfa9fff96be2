package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDollarRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "SELECT 1", want: "SELECT 1"},
		{in: "SELECT * FROM t WHERE a = ?", want: "SELECT * FROM t WHERE a = $1"},
		{in: "UPDATE t SET q = q + ? WHERE id = ? AND q + ? >= 0", want: "UPDATE t SET q = q + $1 WHERE id = $2 AND q + $3 >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DollarRebind(tt.in))
		})
	}
}
