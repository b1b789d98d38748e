package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"1024", 1024, false},
		{"5Gi", 5 * GB, false},
		{"5GB", 5 * GB, false},
		{"500 MiB", 500 * MB, false},
		{"1.5G", int64(1.5 * float64(GB)), false},
		{"2t", 2 * TB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"10XB", 0, true},
		{"-5G", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 B", Format(0))
	assert.Equal(t, "512 B", Format(512))
	assert.Equal(t, "1.00 KiB", Format(KB))
	assert.Equal(t, "5.00 GiB", Format(5*GB))
}

func TestSizeUnmarshalYAML(t *testing.T) {
	var cfg struct {
		A Size `yaml:"a"`
		B Size `yaml:"b"`
	}
	err := yaml.Unmarshal([]byte("a: 5Gi\nb: 2048\n"), &cfg)
	require.NoError(t, err)

	assert.Equal(t, 5*GB, cfg.A.Bytes())
	assert.Equal(t, int64(2048), cfg.B.Bytes())
	assert.Equal(t, "5.00 GiB", cfg.A.String())
}

func TestSizeUnmarshalYAMLInvalid(t *testing.T) {
	var cfg struct {
		A Size `yaml:"a"`
	}
	err := yaml.Unmarshal([]byte("a: lots\n"), &cfg)
	assert.Error(t, err)
}
