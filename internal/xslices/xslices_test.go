package xslices_test

import (
	"testing"

	"deedles.dev/wlcomp/internal/xslices"
	"github.com/stretchr/testify/assert"
)

func TestFilter(t *testing.T) {
	even := xslices.Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)
}

func TestRemove(t *testing.T) {
	assert.Equal(t, []int{1, 3}, xslices.Remove([]int{1, 2, 3, 2}, 2))
	assert.Empty(t, xslices.Remove([]int{2}, 2))
}

func TestInsert(t *testing.T) {
	tests := []struct {
		name string
		at   int
		want []int
	}{
		{"Front", 0, []int{9, 1, 2}},
		{"Middle", 1, []int{1, 9, 2}},
		{"End", 2, []int{1, 2, 9}},
		{"Clamped", 10, []int{1, 2, 9}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, xslices.Insert([]int{1, 2}, test.at, 9))
		})
	}
}
