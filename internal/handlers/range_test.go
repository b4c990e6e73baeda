package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = 100

	tests := []struct {
		name        string
		header      string
		want        byteRange
		wantPartial bool
		wantErr     bool
	}{
		{name: "absent", header: ""},
		{name: "other unit", header: "items=0-5"},
		{name: "multi range", header: "bytes=0-1,5-6"},
		{name: "bounded", header: "bytes=10-19", want: byteRange{start: 10, length: 10}, wantPartial: true},
		{name: "open ended", header: "bytes=90-", want: byteRange{start: 90, length: 10}, wantPartial: true},
		{name: "suffix", header: "bytes=-5", want: byteRange{start: 95, length: 5}, wantPartial: true},
		{name: "suffix larger than file", header: "bytes=-500", want: byteRange{start: 0, length: 100}, wantPartial: true},
		{name: "end clamped", header: "bytes=95-1000", want: byteRange{start: 95, length: 5}, wantPartial: true},
		{name: "start past end", header: "bytes=100-", wantErr: true},
		{name: "end before start", header: "bytes=10-5", wantErr: true},
		{name: "garbage", header: "bytes=abc", wantErr: true},
		{name: "zero suffix", header: "bytes=-0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, partial, err := parseRange(tt.header, size)
			if tt.wantErr {
				require.ErrorIs(t, err, errRangeNotSatisfiable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPartial, partial)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "bytes 10-19/100", byteRange{start: 10, length: 10}.contentRange(100))
}
