package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/papeline/papeline/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash committed store directories and compare against their manifest",
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().String("hash", "", "verify only this store directory's short hash (default: verify all)")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	baseDir, _ := cmd.Flags().GetString("base-dir")
	shortHash, _ := cmd.Flags().GetString("hash")

	st, err := store.Open(baseDir)
	if err != nil {
		return err
	}
	defer st.Close()

	results := map[string][]store.VerifyResult{}
	if shortHash != "" {
		res, err := st.Verify(shortHash)
		if err != nil {
			return err
		}
		results[shortHash] = res
	} else {
		results, err = st.VerifyAll()
		if err != nil {
			return err
		}
	}

	failed := 0
	for hash, res := range results {
		for _, r := range res {
			status := "OK"
			if !r.OK {
				status = "FAIL " + r.Error
				failed++
			}
			fmt.Printf("%s  %-40s %s\n", hash, r.File, status)
		}
	}
	if failed > 0 {
		return errors.Errorf("verify: %d file(s) failed hash comparison", failed)
	}
	return nil
}
