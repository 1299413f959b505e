package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/store"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove store directories unreferenced by any run",
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, _ []string) error {
	baseDir, _ := cmd.Flags().GetString("base-dir")
	st, err := store.Open(baseDir)
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := st.GC()
	if err != nil {
		return err
	}
	for _, h := range removed {
		fmt.Println(h)
	}
	nlog.Infof("gc: removed %d unreferenced store directories", len(removed))
	return nil
}
