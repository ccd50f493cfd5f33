package config_test

import (
	"testing"
	"time"

	"github.com/fametec/filed/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	A string
	B string
}

type nested struct {
	inner
	Sub  inner  `config:"sub"`
	C    string
}

func TestItemsNested(t *testing.T) {
	in := nested{
		inner: inner{A: "1", B: "2"},
		Sub:   inner{A: "3", B: "4"},
		C:     "normal",
	}
	got, err := config.Items(&in)
	require.NoError(t, err)
	names := make([]string, len(got))
	for i, item := range got {
		names[i] = item.Name
	}
	assert.Equal(t, []string{"a", "b", "sub_a", "sub_b", "c"}, names)
}

type opts struct {
	RateLimit   int           `config:"rate_limit"`
	Compress    bool
	Interval    time.Duration `config:"interval"`
}

type configMap map[string]string

func (m configMap) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func TestSet(t *testing.T) {
	o := &opts{RateLimit: 0, Compress: false, Interval: 0}
	m := configMap{
		"rate_limit": "1048576",
		"compress":   "true",
		"interval":   "30s",
	}
	require.NoError(t, config.Set(m, o))
	assert.Equal(t, 1048576, o.RateLimit)
	assert.True(t, o.Compress)
	assert.Equal(t, 30*time.Second, o.Interval)
}

func TestSetLeavesUnspecifiedFields(t *testing.T) {
	o := &opts{RateLimit: 42}
	require.NoError(t, config.Set(configMap{}, o))
	assert.Equal(t, 42, o.RateLimit)
}
