package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/address"
	"github.com/dhcgn/mbox-contacts/header"
)

// NewDecodeCommand decodes display names given as arguments, or one per line
// on stdin when no argument is given.
func NewDecodeCommand() *cobra.Command {
	var asList bool

	cmd := &cobra.Command{
		Use:   "decode [display name...]",
		Short: "Decode MIME encoded-word display names",
		Example: `  mbox-contacts decode '=?UTF-8?B?SsO8cmdlbg==?='
  mbox-contacts decode --list 'Team: =?UTF-8?Q?Jos=C3=A9?= <jose@example.com>, bob@example.com;'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			decodeLine := decodeName
			if asList {
				decodeLine = decodeList
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				for _, arg := range args {
					fmt.Fprintln(out, decodeLine(arg))
				}
				return nil
			}
			return decodeLines(cmd.InOrStdin(), out, decodeLine)
		},
	}

	cmd.Flags().BoolVarP(&asList, "list", "l", false, "Treat input as an address-list header value and print one decoded address per entry")
	return cmd
}

func decodeName(s string) string {
	return address.DecodeWords(s)
}

func decodeList(s string) string {
	var lines []string
	for _, a := range header.ParseList(s) {
		lines = append(lines, displayAddress(a))
	}
	return strings.Join(lines, "\n")
}

func decodeLines(r io.Reader, w io.Writer, decode func(string) string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fmt.Fprintln(w, decode(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
