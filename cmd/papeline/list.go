package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/papeline/papeline/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed store directories",
	RunE:  runList,
}

func runList(cmd *cobra.Command, _ []string) error {
	baseDir, _ := cmd.Flags().GetString("base-dir")
	st, err := store.Open(baseDir)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.List()
	if err != nil {
		return err
	}
	referenced, err := st.ReferencedHashes()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Hash\tReferenced\tDir")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%v\t%s\n", e.ShortHash, referenced[e.ShortHash], e.Dir)
	}
	return tw.Flush()
}
