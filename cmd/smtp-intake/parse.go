package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shineum/smtp-intake/internal/email"
	"github.com/shineum/smtp-intake/internal/parser"
)

func newParseCmd() *cobra.Command {
	var (
		compact bool
		noRaw   bool
	)

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a raw message and print its JSON record",
		Long: `Parse reads a raw RFC 5322 message from a file, or from stdin when the file
is omitted or "-", and prints the record a provider would receive.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening message: %w", err)
				}
				defer f.Close()
				in = f
			}

			rec, err := parseRecord(in)
			if err != nil {
				return err
			}
			if noRaw {
				rec.Raw = ""
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(rec)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print the record on a single line")
	cmd.Flags().BoolVar(&noRaw, "no-raw", false, "omit the raw message from the output")
	return cmd
}

func parseRecord(r io.Reader) (*email.Record, error) {
	msg, err := parser.ParseReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	msg.ID = uuid.NewString()
	return email.NewRecord(msg), nil
}
