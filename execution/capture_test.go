package execution

import (
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCappedBuffer(t *testing.T) {
	t.Run("under limit", func(t *testing.T) {
		b := newCappedBuffer(10)
		n, err := b.Write([]byte("hello"))
		assert.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.False(t, b.Truncated())
		assert.Equal(t, "hello", b.String())
	})

	t.Run("over limit keeps prefix", func(t *testing.T) {
		b := newCappedBuffer(4)
		n, err := b.Write([]byte("abcdef"))
		assert.NoError(t, err)
		assert.Equal(t, 6, n)
		_, _ = b.Write([]byte("ghi"))
		assert.True(t, b.Truncated())
		assert.Equal(t, "abcd\n[output truncated: 5 bytes discarded]", b.String())
	})

	t.Run("zero limit", func(t *testing.T) {
		b := newCappedBuffer(0)
		_, _ = b.Write([]byte("x"))
		assert.True(t, b.Truncated())
		assert.True(t, strings.HasPrefix(b.String(), "\n[output truncated"))
	})

	t.Run("invalid utf8 replaced", func(t *testing.T) {
		b := newCappedBuffer(10)
		_, _ = b.Write([]byte{'o', 'k', 0xff})
		assert.Equal(t, "ok�", b.String())
	})

	t.Run("concurrent writers", func(t *testing.T) {
		b := newCappedBuffer(1000)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					_, _ = b.Write([]byte("0123456789"))
				}
			}()
		}
		wg.Wait()
		assert.True(t, b.Truncated())
		assert.Contains(t, b.String(), "[output truncated: 1000 bytes discarded]")
	})
}

func TestBuildEnvironment(t *testing.T) {
	parent := map[string]string{"PATH": "/usr/bin", "HOME": "/home/u", "SECRET": "s"}
	lookup := func(k string) (string, bool) {
		v, ok := parent[k]
		return v, ok
	}

	env := buildEnvironment([]string{"PATH", "HOME", "LANG"}, map[string]string{
		"HOME":  "/tmp/h",
		"EXTRA": "1",
		"":      "ignored",
		"A=B":   "ignored",
	}, lookup)

	assert.True(t, sort.StringsAreSorted(env))
	assert.Equal(t, []string{"EXTRA=1", "HOME=/tmp/h", "PATH=/usr/bin"}, env)
}

func TestBuildEnvironment_Empty(t *testing.T) {
	env := buildEnvironment(nil, nil, func(string) (string, bool) { return "", false })
	assert.Empty(t, env)
}
