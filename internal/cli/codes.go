package cli

import (
	"fmt"

	"github.com/embedmem/tagmem/trace"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
)

// NewCodesCommand creates the codes command, which prints the crash code table
func NewCodesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "Print the crash code table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if rootOpts.Format == "json" {
				writer := jwriter.NewWriter()
				arrayState := writer.Array()
				for _, code := range trace.KnownCodes() {
					obj := arrayState.Object()
					obj.Name("Code").String(fmt.Sprintf("0x%X", uint32(code)))
					obj.Name("Name").String(code.String())
					obj.Name("Description").String(code.Description())
					obj.End()
				}
				arrayState.End()

				_, err := fmt.Fprintln(out, string(writer.Bytes()))
				return err
			}

			for _, code := range trace.KnownCodes() {
				_, err := fmt.Fprintf(out, "0x%X  %-22s %s\n", uint32(code), code, code.Description())
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}
