package iocli

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Проверяем что NewStdio возвращает валидный объект
func TestNewStdio(t *testing.T) {
	stdio := NewStdio()
	assert.NotNil(t, stdio)
}

func TestStream_Output(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader(""), &out)

	s.Println("hello", "world")
	s.Printf("test %d %s\n", 1, "abc")
	_, err := s.Write([]byte("raw"))
	require.NoError(t, err)

	assert.Equal(t, "hello world\ntest 1 abc\nraw", out.String())
	assert.False(t, s.IsInteractive())
}

func TestStream_ReadInput(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader("  yes \nsecond"), &out)

	got, err := s.ReadInput("Continue? ")
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
	assert.Equal(t, "Continue? ", out.String())

	// Последняя строка без перевода строки тоже читается
	got, err = s.ReadPassword("Token: ")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = s.ReadInput("again: ")
	assert.Error(t, err)
}

// Тест ReadInput: читаем из pipe вместо терминала
func TestStdio_ReadInputFromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	go func() {
		_, _ = w.Write([]byte("user input\n"))
		_ = w.Close()
	}()

	oldStdin := os.Stdin
	defer func() { os.Stdin = oldStdin }()
	os.Stdin = r

	stdio := NewStdio()
	assert.False(t, stdio.IsInteractive())

	result, err := stdio.ReadInput("")
	assert.NoError(t, err)
	assert.Equal(t, "user input", result)
}
