// Copyright 2025 HWForge Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filesystem

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MockFileSystem is a mock implementation of the filesystem.Service interface
type MockFileSystem struct {
	FailureRate          float64 // 0.0 to 1.0
	DelayRange           time.Duration
	FailedOperations     map[string]bool
	ReadFileFunc         func(ctx context.Context, path string) ([]byte, error)
	WriteFileFunc        func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	AppendFileFunc       func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	PathExistsFunc       func(ctx context.Context, path string) (bool, error)
	EnsureDirectoryFunc  func(ctx context.Context, path string) error
	RemoveFunc           func(ctx context.Context, path string) error
	RemoveAllFunc        func(ctx context.Context, path string) error
	StatFunc             func(ctx context.Context, path string) (os.FileInfo, error)
	ReadDirFunc          func(ctx context.Context, path string) ([]os.DirEntry, error)
	ExecuteCommandInFunc func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
	RenameFunc           func(ctx context.Context, oldPath, newPath string) error
	WalkTreeFunc         func(ctx context.Context, root string) ([]TreeEntry, error)
	mutex                sync.Mutex
}

// NewMockFileSystem creates a new MockFileSystem instance
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		FailureRate:      0.0,
		DelayRange:       0,
		FailedOperations: make(map[string]bool),
	}
}

// WithFailureRate sets the failure rate for the mock
func (m *MockFileSystem) WithFailureRate(rate float64) *MockFileSystem {
	m.FailureRate = rate
	return m
}

// WithDelayRange sets the delay range for the mock
func (m *MockFileSystem) WithDelayRange(delay time.Duration) *MockFileSystem {
	m.DelayRange = delay
	return m
}

// simulateRandomBehavior decides whether an operation should fail and how long it should delay
func (m *MockFileSystem) simulateRandomBehavior(operation string) (bool, time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.FailedOperations == nil {
		m.FailedOperations = make(map[string]bool)
	}

	// Check if this operation should fail
	shouldFail := rand.Float64() < m.FailureRate
	if shouldFail {
		m.FailedOperations[operation] = true
	}

	// Apply random delay (0 to DelayRange)
	delay := time.Duration(0)
	if m.DelayRange > 0 {
		delay = time.Duration(rand.Int63n(int64(m.DelayRange)))
	}

	return shouldFail, delay
}

func (m *MockFileSystem) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureDirectory creates a directory if it doesn't exist
func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	if m.EnsureDirectoryFunc != nil {
		return m.EnsureDirectoryFunc(ctx, path)
	}

	shouldFail, delay := m.simulateRandomBehavior("EnsureDirectory:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return err
	}

	if shouldFail {
		return errors.New("simulated failure in EnsureDirectory")
	}
	return nil
}

// ReadFile reads a file's contents respecting the context
func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	shouldFail, delay := m.simulateRandomBehavior("ReadFile:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return nil, err
	}

	if shouldFail {
		return nil, errors.New("simulated failure in ReadFile")
	}
	return []byte("mock content"), nil
}

// WriteFile writes data to a file respecting the context
func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}

	shouldFail, delay := m.simulateRandomBehavior("WriteFile:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return err
	}

	if shouldFail {
		return errors.New("simulated failure in WriteFile")
	}
	return nil
}

// AppendFile appends data to a file, creating it if needed
func (m *MockFileSystem) AppendFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if m.AppendFileFunc != nil {
		return m.AppendFileFunc(ctx, path, data, perm)
	}

	shouldFail, delay := m.simulateRandomBehavior("AppendFile:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return err
	}

	if shouldFail {
		return errors.New("simulated failure in AppendFile")
	}
	return nil
}

// PathExists checks if a path exists
func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	if m.PathExistsFunc != nil {
		return m.PathExistsFunc(ctx, path)
	}

	shouldFail, delay := m.simulateRandomBehavior("PathExists:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return false, err
	}

	if shouldFail {
		return false, errors.New("simulated failure in PathExists")
	}
	return true, nil
}

// Remove removes a file or directory
func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}

	shouldFail, delay := m.simulateRandomBehavior("Remove:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return err
	}

	if shouldFail {
		return errors.New("simulated failure in Remove")
	}
	return nil
}

// RemoveAll removes a directory and all its contents
func (m *MockFileSystem) RemoveAll(ctx context.Context, path string) error {
	if m.RemoveAllFunc != nil {
		return m.RemoveAllFunc(ctx, path)
	}

	shouldFail, delay := m.simulateRandomBehavior("RemoveAll:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return err
	}

	if shouldFail {
		return errors.New("simulated failure in RemoveAll")
	}
	return nil
}

// Stat returns file info
func (m *MockFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if m.StatFunc != nil {
		return m.StatFunc(ctx, path)
	}

	shouldFail, delay := m.simulateRandomBehavior("Stat:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return nil, err
	}

	if shouldFail {
		return nil, errors.New("simulated failure in Stat")
	}

	return &memFileInfo{
		name:  filepath.Base(path),
		size:  0,
		mode:  0644,
		mtime: time.Now(),
		dir:   true,
	}, nil
}

// ReadDir reads a directory, returning all its directory entries
func (m *MockFileSystem) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if m.ReadDirFunc != nil {
		return m.ReadDirFunc(ctx, path)
	}

	shouldFail, delay := m.simulateRandomBehavior("ReadDir:" + path)
	if err := m.wait(ctx, delay); err != nil {
		return nil, err
	}

	if shouldFail {
		return nil, errors.New("simulated failure in ReadDir")
	}
	return nil, nil
}

// ExecuteCommandIn executes a command with context in the given working directory
func (m *MockFileSystem) ExecuteCommandIn(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	if m.ExecuteCommandInFunc != nil {
		return m.ExecuteCommandInFunc(ctx, dir, name, args...)
	}

	shouldFail, delay := m.simulateRandomBehavior("ExecuteCommandIn:" + name)
	if err := m.wait(ctx, delay); err != nil {
		return nil, err
	}

	if shouldFail {
		return nil, errors.New("simulated failure in ExecuteCommandIn")
	}
	return []byte("mock command output"), nil
}

// Rename renames (moves) a file or directory
func (m *MockFileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	if m.RenameFunc != nil {
		return m.RenameFunc(ctx, oldPath, newPath)
	}

	shouldFail, delay := m.simulateRandomBehavior("Rename:" + oldPath)
	if err := m.wait(ctx, delay); err != nil {
		return err
	}

	if shouldFail {
		return errors.New("simulated failure in Rename")
	}
	return nil
}

// WalkTree lists every entry below root
func (m *MockFileSystem) WalkTree(ctx context.Context, root string) ([]TreeEntry, error) {
	if m.WalkTreeFunc != nil {
		return m.WalkTreeFunc(ctx, root)
	}

	shouldFail, delay := m.simulateRandomBehavior("WalkTree:" + root)
	if err := m.wait(ctx, delay); err != nil {
		return nil, err
	}

	if shouldFail {
		return nil, errors.New("simulated failure in WalkTree")
	}
	return nil, nil
}

// WithEnsureDirectoryFunc sets a custom implementation for EnsureDirectory
func (m *MockFileSystem) WithEnsureDirectoryFunc(fn func(ctx context.Context, path string) error) *MockFileSystem {
	m.EnsureDirectoryFunc = fn
	return m
}

// WithReadFileFunc sets a custom implementation for ReadFile
func (m *MockFileSystem) WithReadFileFunc(fn func(ctx context.Context, path string) ([]byte, error)) *MockFileSystem {
	m.ReadFileFunc = fn
	return m
}

// WithWriteFileFunc sets a custom implementation for WriteFile
func (m *MockFileSystem) WithWriteFileFunc(fn func(ctx context.Context, path string, data []byte, perm os.FileMode) error) *MockFileSystem {
	m.WriteFileFunc = fn
	return m
}

// WithAppendFileFunc sets a custom implementation for AppendFile
func (m *MockFileSystem) WithAppendFileFunc(fn func(ctx context.Context, path string, data []byte, perm os.FileMode) error) *MockFileSystem {
	m.AppendFileFunc = fn
	return m
}

// WithPathExistsFunc sets a custom function for PathExists
func (m *MockFileSystem) WithPathExistsFunc(fn func(ctx context.Context, path string) (bool, error)) *MockFileSystem {
	m.PathExistsFunc = fn
	return m
}

// WithRemoveFunc sets a custom implementation for Remove
func (m *MockFileSystem) WithRemoveFunc(fn func(ctx context.Context, path string) error) *MockFileSystem {
	m.RemoveFunc = fn
	return m
}

// WithRemoveAllFunc sets a custom implementation for RemoveAll
func (m *MockFileSystem) WithRemoveAllFunc(fn func(ctx context.Context, path string) error) *MockFileSystem {
	m.RemoveAllFunc = fn
	return m
}

// WithStatFunc sets a custom implementation for Stat
func (m *MockFileSystem) WithStatFunc(fn func(ctx context.Context, path string) (os.FileInfo, error)) *MockFileSystem {
	m.StatFunc = fn
	return m
}

// WithReadDirFunc sets a custom implementation for ReadDir
func (m *MockFileSystem) WithReadDirFunc(fn func(ctx context.Context, path string) ([]os.DirEntry, error)) *MockFileSystem {
	m.ReadDirFunc = fn
	return m
}

// WithExecuteCommandInFunc sets a custom implementation for ExecuteCommandIn
func (m *MockFileSystem) WithExecuteCommandInFunc(fn func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)) *MockFileSystem {
	m.ExecuteCommandInFunc = fn
	return m
}

// WithRenameFunc sets a custom implementation for Rename
func (m *MockFileSystem) WithRenameFunc(fn func(ctx context.Context, oldPath, newPath string) error) *MockFileSystem {
	m.RenameFunc = fn
	return m
}

// WithWalkTreeFunc sets a custom implementation for WalkTree
func (m *MockFileSystem) WithWalkTreeFunc(fn func(ctx context.Context, root string) ([]TreeEntry, error)) *MockFileSystem {
	m.WalkTreeFunc = fn
	return m
}

// NewMockFileInfo creates a new mock FileInfo for testing
func (m *MockFileSystem) NewMockFileInfo(name string, size int64, mode os.FileMode, modTime time.Time, isDir bool) os.FileInfo {
	return &memFileInfo{
		name:  name,
		size:  size,
		mode:  mode,
		mtime: modTime,
		dir:   isDir,
	}
}

// memFileInfo is a minimal os.FileInfo for mocks.
type memFileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
	dir   bool
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *memFileInfo) ModTime() time.Time { return fi.mtime }
func (fi *memFileInfo) IsDir() bool        { return fi.dir }
func (fi *memFileInfo) Sys() interface{}   { return nil }
