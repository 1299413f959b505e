package store_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papeline/papeline/store"
)

var _ = Describe("Store", func() {
	var (
		base string
		s    *store.Store
		si   store.StageInput
	)

	BeforeEach(func() {
		base = GinkgoT().TempDir()
		var err error
		s, err = store.Open(base)
		Expect(err).NotTo(HaveOccurred())
		si, err = store.MakeStageInput(store.Pubmed, store.PubmedConfig{BaseURL: "https://example.org/pubmed", Limit: 5})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	commitSample := func() store.StageManifest {
		tmp := s.StageTmpDir(si)
		Expect(os.MkdirAll(tmp, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(tmp, "shard_0000.parquet"), []byte("rows"), 0o644)).To(Succeed())
		m, err := s.CommitStage(si, tmp, false)
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	Describe("Lookup", func() {
		It("reports a miss before any commit", func() {
			res := s.Lookup(si)
			Expect(res.Cached).To(BeFalse())
		})

		It("reports a hit after a commit", func() {
			commitSample()
			res := s.Lookup(si)
			Expect(res.Cached).To(BeTrue())
			Expect(res.Manifest.Stage).To(Equal(store.Pubmed))
		})

		It("treats a format-version mismatch as a miss", func() {
			m := commitSample()
			m.FormatVersion = store.CurrentFormatVersion + 1
			Expect(m.WriteTo(s.StageDir(si))).To(Succeed())

			res := s.Lookup(si)
			Expect(res.Cached).To(BeFalse())
		})
	})

	Describe("CommitStage", func() {
		It("is idempotent under a concurrent-committer race", func() {
			first := commitSample()

			tmp2 := s.StageTmpDir(si)
			Expect(os.MkdirAll(tmp2, 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(tmp2, "shard_0000.parquet"), []byte("rows"), 0o644)).To(Succeed())
			second, err := s.CommitStage(si, tmp2, false)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.ContentHash).To(Equal(first.ContentHash))
			_, statErr := os.Stat(tmp2)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})

	Describe("CreateRun and GC", func() {
		It("keeps referenced store dirs and removes unreferenced ones after gc", func() {
			m := commitSample()

			otherInput, err := store.MakeStageInput(store.Pubmed, store.PubmedConfig{BaseURL: "https://unused.example"})
			Expect(err).NotTo(HaveOccurred())
			tmp := s.StageTmpDir(otherInput)
			Expect(os.MkdirAll(tmp, 0o755)).To(Succeed())
			_, err = s.CommitStage(otherInput, tmp, false)
			Expect(err).NotTo(HaveOccurred())

			entriesBefore, err := s.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entriesBefore).To(HaveLen(2))

			_, err = s.CreateRun([]store.ParticipatingStage{
				{Stage: store.Pubmed, Input: si, Manifest: m, Cached: false},
			})
			Expect(err).NotTo(HaveOccurred())

			removed, err := s.GC()
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(ConsistOf(otherInput.InputHash().Short()))

			entriesAfter, err := s.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entriesAfter).To(HaveLen(1))
			Expect(entriesAfter[0].ShortHash).To(Equal(si.InputHash().Short()))
		})

		It("creates a latest symlink pointing at the new run directory", func() {
			m := commitSample()
			run, err := s.CreateRun([]store.ParticipatingStage{
				{Stage: store.Pubmed, Input: si, Manifest: m, Cached: false},
			})
			Expect(err).NotTo(HaveOccurred())

			target, err := os.Readlink(filepath.Join(base, "latest"))
			Expect(err).NotTo(HaveOccurred())
			Expect(target).To(ContainSubstring(run.RunHash))
		})
	})

	Describe("Verify", func() {
		It("passes immediately after a commit", func() {
			commitSample()
			results, err := s.Verify(si.InputHash().Short())
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].OK).To(BeTrue())
		})

		It("fails when a committed file is tampered with", func() {
			commitSample()
			Expect(os.WriteFile(filepath.Join(s.StageDir(si), "shard_0000.parquet"), []byte("tampered"), 0o644)).To(Succeed())

			results, err := s.Verify(si.InputHash().Short())
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].OK).To(BeFalse())
		})
	})

	Describe("CleanupTmp", func() {
		It("removes stray tmp dirs left by an interrupted run", func() {
			tmp := s.StageTmpDir(si)
			Expect(os.MkdirAll(tmp, 0o755)).To(Succeed())

			Expect(s.CleanupTmp()).To(Succeed())

			_, err := os.Stat(tmp)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})
})
