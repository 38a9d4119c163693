package strategy_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/executor"
	"github.com/stupid-simple/devbackup/remote"
)

func createTestAssets(t *testing.T, baseDir string, count int) []asset.Asset {
	assets := make([]asset.Asset, 0, count)
	for i := range count {
		path := filepath.Join(baseDir, fmt.Sprintf("file%d.txt", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("Content for file %d", i)), 0644))

		info, err := os.Stat(path)
		require.NoError(t, err)
		a, err := asset.NewFromFS(path, info)
		require.NoError(t, err)
		assets = append(assets, a)
	}
	return assets
}

func seqOf(assets []asset.Asset) iter.Seq[asset.Asset] {
	return slices.Values(assets)
}

func listDir(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// memTransport keeps pushed files in memory.
type memTransport struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pushErr  error
	checkErr error
	// Local files Pull wrote into.
	pulledTo []string
}

func newMemTransport() *memTransport {
	return &memTransport{objects: map[string][]byte{}}
}

func (m *memTransport) Name() string { return "mem" }

func (m *memTransport) Check(ctx context.Context) error { return m.checkErr }

func (m *memTransport) Push(ctx context.Context, localPath string, name string) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return nil
}

func (m *memTransport) Pull(ctx context.Context, name string, w io.Writer) error {
	m.mu.Lock()
	data, ok := m.objects[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", backuperr.ErrNotFound, name)
	}
	if f, ok := w.(*os.File); ok {
		m.mu.Lock()
		m.pulledTo = append(m.pulledTo, f.Name())
		m.mu.Unlock()
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (m *memTransport) Stat(ctx context.Context, name string) (remote.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return remote.Object{}, fmt.Errorf("%w: %s", backuperr.ErrNotFound, name)
	}
	return remote.Object{Name: name, Size: int64(len(data))}, nil
}

func (m *memTransport) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		return fmt.Errorf("%w: %s", backuperr.ErrNotFound, name)
	}
	delete(m.objects, name)
	return nil
}

func (m *memTransport) Close() error { return nil }

// scriptedExecutor answers restic invocations by subcommand.
type scriptedExecutor struct {
	commands []executor.Command
	answers  map[string][]executor.ExitStatus
}

func (s *scriptedExecutor) Execute(ctx context.Context, cmd executor.Command) (executor.ExitStatus, error) {
	s.commands = append(s.commands, cmd)
	if err := ctx.Err(); err != nil {
		return executor.ExitStatus{Code: -1}, err
	}
	queue := s.answers[cmd.Args[0]]
	if len(queue) == 0 {
		return executor.ExitStatus{}, nil
	}
	status := queue[0]
	if len(queue) > 1 {
		s.answers[cmd.Args[0]] = queue[1:]
	}
	return status, nil
}

func (s *scriptedExecutor) subcommands() []string {
	var out []string
	for _, c := range s.commands {
		out = append(out, c.Args[0])
	}
	return out
}

// rcloneStore answers rclone copyto like rclone does: uploads are kept in
// memory and downloads land in <dst>.partial before being renamed over dst.
type rcloneStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pulledTo []string
}

func (s *rcloneStore) Execute(ctx context.Context, cmd executor.Command) (executor.ExitStatus, error) {
	if cmd.Args[0] != "copyto" {
		return executor.ExitStatus{}, nil
	}
	src, dst := cmd.Args[1], cmd.Args[2]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	if data, ok := s.objects[src]; ok {
		s.pulledTo = append(s.pulledTo, dst)
		if err := os.WriteFile(dst+".partial", data, 0600); err != nil {
			return executor.ExitStatus{Code: 1}, err
		}
		return executor.ExitStatus{}, os.Rename(dst+".partial", dst)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return executor.ExitStatus{Code: 1}, err
	}
	s.objects[dst] = data
	return executor.ExitStatus{}, nil
}

func mustAsset(t *testing.T, path string) asset.Asset {
	info, err := os.Stat(path)
	require.NoError(t, err)
	a, err := asset.NewFromFS(path, info)
	require.NoError(t, err)
	return a
}
