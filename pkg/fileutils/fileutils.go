/*
Copyright The PostgreSQL K8s Charm Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fileutils provides idempotent ownership, mode and directory
// repair for the externally mounted volumes the entrypoint depends on.
// The host environment may reset ownership and permissions across
// remounts, so every helper here is safe to run on every boot.
package fileutils

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cloudnative-pg/machinery/pkg/log"
)

// Ownership identifies a system user and group by name.
type Ownership struct {
	User  string
	Group string
}

// LookupUIDFunc resolves a user name to a numeric uid.
type LookupUIDFunc func(name string) (int, error)

// LookupGIDFunc resolves a group name to a numeric gid.
type LookupGIDFunc func(name string) (int, error)

// ChownFunc is the function signature used to change file ownership.
// Exposed for testing, since the test suite does not run as root.
type ChownFunc func(path string, uid, gid int) error

// ChmodFunc changes the full numeric mode of a path, including the
// setgid and sticky bits. os.Chmod cannot express those directly, so
// the default implementation goes through syscall.Chmod.
type ChmodFunc func(path string, mode uint32) error

func defaultLookupUID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func defaultLookupGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

func defaultChmod(path string, mode uint32) error {
	return syscall.Chmod(path, mode)
}

// Manager applies ownership and mode repairs using injectable primitives.
type Manager struct {
	lookupUID LookupUIDFunc
	lookupGID LookupGIDFunc
	chown     ChownFunc
	chmod     ChmodFunc
}

// NewManager creates a Manager backed by the real system calls.
func NewManager() *Manager {
	return &Manager{
		lookupUID: defaultLookupUID,
		lookupGID: defaultLookupGID,
		chown:     os.Chown,
		chmod:     defaultChmod,
	}
}

// NewManagerWithFuncs creates a Manager with custom primitives.
// This is intended for testing.
func NewManagerWithFuncs(
	lookupUID LookupUIDFunc,
	lookupGID LookupGIDFunc,
	chown ChownFunc,
	chmod ChmodFunc,
) *Manager {
	return &Manager{
		lookupUID: lookupUID,
		lookupGID: lookupGID,
		chown:     chown,
		chmod:     chmod,
	}
}

// EnsureOwnershipAndMode forces the given ownership and full numeric mode
// on an existing path. It is idempotent and succeeds when the attributes
// are already correct.
func (m *Manager) EnsureOwnershipAndMode(path string, owner Ownership, mode uint32) error {
	contextLogger := log.WithValues("path", path, "owner", owner.User, "group", owner.Group)

	uid, err := m.lookupUID(owner.User)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", owner.User, err)
	}
	gid, err := m.lookupGID(owner.Group)
	if err != nil {
		return fmt.Errorf("looking up group %q: %w", owner.Group, err)
	}

	if err := m.chown(path, uid, gid); err != nil {
		return fmt.Errorf("changing ownership of %s: %w", path, err)
	}
	if err := m.chmod(path, mode); err != nil {
		return fmt.Errorf("changing mode of %s: %w", path, err)
	}

	contextLogger.Debug("ownership and mode repaired", "mode", fmt.Sprintf("%#o", mode))
	return nil
}

// EnsureDirectory creates a directory with the given mode only when it is
// absent. It returns true when the directory was created by this call.
func (m *Manager) EnsureDirectory(path string, mode uint32) (bool, error) {
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", path)
		}
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	if err := os.MkdirAll(path, os.FileMode(mode&0o777)); err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	// MkdirAll masks the requested mode with the umask, so reapply it.
	if err := m.chmod(path, mode); err != nil {
		return false, fmt.Errorf("changing mode of %s: %w", path, err)
	}

	log.Info("directory created", "path", path, "mode", fmt.Sprintf("%#o", mode))
	return true, nil
}

// EnsureOwnedDirectory ensures the directory exists with the given
// ownership and mode, creating it when absent and repairing attributes
// either way.
func (m *Manager) EnsureOwnedDirectory(path string, owner Ownership, mode uint32) error {
	if _, err := m.EnsureDirectory(path, mode); err != nil {
		return err
	}
	return m.EnsureOwnershipAndMode(path, owner, mode)
}

// FileExists returns whether the path exists, following symlinks.
func FileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DirectoryExists returns whether the path exists and is a directory.
func DirectoryExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// WriteFileAtomic writes data to path through a temporary file in the
// same directory followed by a rename, so a partially written fragment
// is never observed by readers.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting mode of %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// AppendLinesOnce appends block to the file at path unless marker is
// already present on its own line. Used for pg_hba.conf rules that must
// not accumulate across restarts.
func AppendLinesOnce(path, marker, block string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	if strings.Contains(string(content), marker+"\n") {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return false, fmt.Errorf("opening %s for append: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.WriteString("\n" + marker + "\n" + block); err != nil {
		return false, fmt.Errorf("appending to %s: %w", path, err)
	}
	return true, nil
}
