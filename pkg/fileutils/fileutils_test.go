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

package fileutils

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// chownCall records one invocation of the injected chown function.
type chownCall struct {
	path string
	uid  int
	gid  int
}

// chmodCall records one invocation of the injected chmod function.
type chmodCall struct {
	path string
	mode uint32
}

func newRecordingManager(chowns *[]chownCall, chmods *[]chmodCall) *Manager {
	return NewManagerWithFuncs(
		func(name string) (int, error) {
			if name == "postgres" {
				return 104, nil
			}
			if name == "root" {
				return 0, nil
			}
			return 0, errors.New("unknown user")
		},
		func(name string) (int, error) {
			if name == "postgres" {
				return 105, nil
			}
			if name == "root" {
				return 0, nil
			}
			return 0, errors.New("unknown group")
		},
		func(path string, uid, gid int) error {
			*chowns = append(*chowns, chownCall{path: path, uid: uid, gid: gid})
			return nil
		},
		func(path string, mode uint32) error {
			*chmods = append(*chmods, chmodCall{path: path, mode: mode})
			return nil
		},
	)
}

var _ = Describe("Ownership and mode repair", func() {
	var (
		tmpDir string
		chowns []chownCall
		chmods []chmodCall
		mgr    *Manager
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "fileutils-test")
		Expect(err).ToNot(HaveOccurred())
		chowns = nil
		chmods = nil
		mgr = newRecordingManager(&chowns, &chmods)
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("resolves names and applies ownership and mode", func() {
		err := mgr.EnsureOwnershipAndMode(tmpDir,
			Ownership{User: "root", Group: "postgres"}, 0o1775)
		Expect(err).ToNot(HaveOccurred())

		Expect(chowns).To(HaveLen(1))
		Expect(chowns[0].uid).To(Equal(0))
		Expect(chowns[0].gid).To(Equal(105))
		Expect(chmods).To(HaveLen(1))
		Expect(chmods[0].mode).To(Equal(uint32(0o1775)))
	})

	It("fails for unknown users", func() {
		err := mgr.EnsureOwnershipAndMode(tmpDir,
			Ownership{User: "nobody-here", Group: "postgres"}, 0o775)
		Expect(err).To(HaveOccurred())
		Expect(chowns).To(BeEmpty())
	})

	It("is idempotent when run repeatedly", func() {
		owner := Ownership{User: "postgres", Group: "postgres"}
		Expect(mgr.EnsureOwnershipAndMode(tmpDir, owner, 0o775)).To(Succeed())
		Expect(mgr.EnsureOwnershipAndMode(tmpDir, owner, 0o775)).To(Succeed())
		Expect(chowns).To(HaveLen(2))
	})
})

var _ = Describe("EnsureDirectory", func() {
	var (
		tmpDir string
		chowns []chownCall
		chmods []chmodCall
		mgr    *Manager
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "fileutils-test")
		Expect(err).ToNot(HaveOccurred())
		chowns = nil
		chmods = nil
		mgr = newRecordingManager(&chowns, &chmods)
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("creates a missing directory and reports it", func() {
		target := filepath.Join(tmpDir, "pgdata")
		created, err := mgr.EnsureDirectory(target, 0o775)
		Expect(err).ToNot(HaveOccurred())
		Expect(created).To(BeTrue())

		info, err := os.Stat(target)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("leaves an existing directory alone", func() {
		target := filepath.Join(tmpDir, "pgdata")
		Expect(os.Mkdir(target, 0o700)).To(Succeed())
		sentinel := filepath.Join(target, "PG_VERSION")
		Expect(os.WriteFile(sentinel, []byte("12\n"), 0o600)).To(Succeed())

		created, err := mgr.EnsureDirectory(target, 0o775)
		Expect(err).ToNot(HaveOccurred())
		Expect(created).To(BeFalse())

		content, err := os.ReadFile(sentinel)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal("12\n"))
	})

	It("rejects a non-directory at the target path", func() {
		target := filepath.Join(tmpDir, "pgdata")
		Expect(os.WriteFile(target, []byte("x"), 0o600)).To(Succeed())

		_, err := mgr.EnsureDirectory(target, 0o775)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("WriteFileAtomic", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "fileutils-test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("writes new content with the requested mode", func() {
		target := filepath.Join(tmpDir, "fragment.conf")
		Expect(WriteFileAtomic(target, []byte("hot_standby = on\n"), 0o644)).To(Succeed())

		content, err := os.ReadFile(target)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal("hot_standby = on\n"))

		info, err := os.Stat(target)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o644)))
	})

	It("fully replaces previous content", func() {
		target := filepath.Join(tmpDir, "fragment.conf")
		Expect(WriteFileAtomic(target, []byte("old content that is longer\n"), 0o644)).To(Succeed())
		Expect(WriteFileAtomic(target, []byte("new\n"), 0o644)).To(Succeed())

		content, err := os.ReadFile(target)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal("new\n"))
	})

	It("leaves no temporary files behind", func() {
		target := filepath.Join(tmpDir, "fragment.conf")
		Expect(WriteFileAtomic(target, []byte("content\n"), 0o644)).To(Succeed())

		entries, err := os.ReadDir(tmpDir)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(HaveLen(1))
	})
})

var _ = Describe("AppendLinesOnce", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "fileutils-test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("appends the block exactly once", func() {
		target := filepath.Join(tmpDir, "pg_hba.conf")
		Expect(os.WriteFile(target, []byte("local all all trust\n"), 0o644)).To(Succeed())

		marker := "# These rules are appended by the charm"
		block := "host all all 0.0.0.0/0 scram-sha-256\n"

		appended, err := AppendLinesOnce(target, marker, block)
		Expect(err).ToNot(HaveOccurred())
		Expect(appended).To(BeTrue())

		appended, err = AppendLinesOnce(target, marker, block)
		Expect(err).ToNot(HaveOccurred())
		Expect(appended).To(BeFalse())

		content, err := os.ReadFile(target)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal(
			"local all all trust\n\n" + marker + "\n" + block))
	})

	It("fails when the base file is missing", func() {
		_, err := AppendLinesOnce(filepath.Join(tmpDir, "missing"), "# marker", "line\n")
		Expect(err).To(HaveOccurred())
	})
})
