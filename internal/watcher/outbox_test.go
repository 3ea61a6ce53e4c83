package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender implements Sender interface for testing
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendFile(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

func TestNewOutbox(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "Default configuration", config: Config{}},
		{
			name: "Custom configuration",
			config: Config{
				DebounceDuration: time.Second,
				BufferSize:       200,
				IgnorePatterns:   []string{".part"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOutbox(new(MockSender), tt.config)
			require.NoError(t, err)
			assert.NotNil(t, o.watcher)
			assert.NotNil(t, o.debouncer)
			assert.NotEmpty(t, o.config.IgnorePatterns)

			assert.NoError(t, o.Close())
			assert.NoError(t, o.Close())
			assert.ErrorIs(t, o.Watch(t.TempDir()), ErrWatcherClosed)
		})
	}
}

func TestOutbox_Watch(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "directory", path: dir},
		{name: "regular file", path: file, wantErr: ErrNotDirectory},
		{name: "missing path", path: filepath.Join(dir, "missing"), wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOutbox(new(MockSender), Config{})
			require.NoError(t, err)
			defer o.Close()

			err = o.Watch(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOutbox_SendsOncePerDebouncedChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")

	sender := new(MockSender)
	sender.On("SendFile", path).Return(nil)

	o, err := NewOutbox(sender, Config{DebounceDuration: 100 * time.Millisecond})
	require.NoError(t, err)
	defer o.Close()
	require.NoError(t, o.Watch(dir))

	// создание и несколько записей подряд - одна отправка
	require.NoError(t, os.WriteFile(path, []byte("part 1"), 0o644))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(" part 2")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return o.Stats().FilesSent == 1
	}, 2*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	sender.AssertNumberOfCalls(t, "SendFile", 1)
	sender.AssertExpectations(t)
}

func TestOutbox_SendErrorReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")

	sender := new(MockSender)
	sender.On("SendFile", path).Return(errors.New("no peers"))

	o, err := NewOutbox(sender, Config{DebounceDuration: 50 * time.Millisecond})
	require.NoError(t, err)
	defer o.Close()
	require.NoError(t, o.Watch(dir))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	select {
	case err := <-o.Errors():
		assert.ErrorContains(t, err, "no peers")
	case <-time.After(2 * time.Second):
		t.Fatal("send error was not reported")
	}
	assert.GreaterOrEqual(t, o.Stats().Errors, int64(1))
}

func TestOutbox_IgnorePatterns(t *testing.T) {
	o, err := NewOutbox(new(MockSender), Config{})
	require.NoError(t, err)
	defer o.Close()

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{name: "regular create", ev: fsnotify.Event{Name: "/out/test.txt", Op: fsnotify.Create}, want: true},
		{name: "write", ev: fsnotify.Event{Name: "/out/test.txt", Op: fsnotify.Write}, want: true},
		{name: "remove", ev: fsnotify.Event{Name: "/out/test.txt", Op: fsnotify.Remove}},
		{name: "temp file", ev: fsnotify.Event{Name: "/out/test.tmp", Op: fsnotify.Create}},
		{name: "editor backup", ev: fsnotify.Event{Name: "/out/test.txt~", Op: fsnotify.Create}},
		{name: "swap file", ev: fsnotify.Event{Name: "/out/test.txt.swp", Op: fsnotify.Write}},
		{name: "hidden", ev: fsnotify.Event{Name: "/out/.draft", Op: fsnotify.Create}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.shouldProcessEvent(tt.ev))
		})
	}
}

func TestDebouncer(t *testing.T) {
	debouncer := NewDebouncer(100 * time.Millisecond)
	var counter atomic.Int32

	for i := 0; i < 5; i++ {
		debouncer.Debounce("test", func() { counter.Add(1) })
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int32(1), counter.Load())
	assert.Zero(t, debouncer.Pending())
}

func TestDebouncer_Stop(t *testing.T) {
	debouncer := NewDebouncer(50 * time.Millisecond)
	var counter atomic.Int32

	debouncer.Debounce("a", func() { counter.Add(1) })
	debouncer.Debounce("b", func() { counter.Add(1) })
	assert.Equal(t, 2, debouncer.Pending())

	debouncer.Stop()
	debouncer.Debounce("c", func() { counter.Add(1) })

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, counter.Load())
}
