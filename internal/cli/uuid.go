package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hector-utils/pkg/ident"
)

func newUUIDCommand() *cobra.Command {
	var (
		count        int
		noSeparators bool
	)
	cmd := &cobra.Command{
		Use:   "uuid",
		Short: "Print random UUID-v4 shaped identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("-n must be at least 1")
			}
			gen := ident.NewGenerator()
			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				fmt.Fprintln(out, gen.Generate(!noSeparators))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of identifiers")
	cmd.Flags().BoolVar(&noSeparators, "no-separators", false, "omit the hyphens (32 hex characters)")
	return cmd
}
