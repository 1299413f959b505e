package cos_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papeline/papeline/cmn/cos"
)

var _ = Describe("UUID generation", func() {
	BeforeEach(func() {
		cos.InitShortID(17)
	})

	It("generates IDs that pass IsValidUUID", func() {
		uuid := cos.GenUUID()
		Expect(cos.IsValidUUID(uuid)).To(BeTrue())
	})

	It("generates distinct IDs across calls", func() {
		seen := map[string]bool{}
		for range 64 {
			u := cos.GenUUID()
			Expect(seen[u]).To(BeFalse())
			seen[u] = true
		}
	})

	It("rejects too-short IDs", func() {
		Expect(cos.IsValidUUID("ab")).To(BeFalse())
	})
})

var _ = Describe("Errs", func() {
	It("deduplicates identical errors", func() {
		var e cos.Errs
		for range 10 {
			e.Add(errBoom)
		}
		Expect(e.Cnt()).To(Equal(1))
	})

	It("reports zero count with no error", func() {
		var e cos.Errs
		Expect(e.Cnt()).To(Equal(0))
		Expect(e.Error()).To(Equal(""))
	})
})

var errBoom = boomErr{}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }
