package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatermark_Compare(t *testing.T) {
	tests := []struct {
		a, b Watermark
		want int
	}{
		{"1000", "1000", 0},
		{"999", "1000", -1},
		{"1050", "1000", 1},
		{"0100", "100", 0},
		{"0", "000", 0},
		{"abc", "abd", -1},
		{"", "1", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Compare(tt.b), "%q vs %q", tt.a, tt.b)
	}
	assert.True(t, Watermark("10").After("9"), "numeric, not lexicographic")
	assert.False(t, Watermark("1000").After("1000"))
}

func TestMaxWatermark(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	var events []RawEvent
	for _, ts := range []string{"1010", "999", "1050", "1030"} {
		e, err := deposits.Decode(jsonRecord(t, testRecord(deposits, "0x"+ts, ts)))
		assert.NoError(t, err)
		events = append(events, e)
	}
	assert.Equal(t, Watermark("1050"), MaxWatermark(events))
	assert.Equal(t, Watermark(""), MaxWatermark(nil))
}
