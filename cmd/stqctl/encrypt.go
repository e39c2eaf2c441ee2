package main

import (
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/stquery/internal/usecase/ingest"
)

func newEncryptQueryCmd() *cobra.Command {
	var (
		publicKey string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "encrypt-query <plain.json|->",
		Short: "Encrypt plaintext query bounds into a submittable query",
		Long: `Encrypt plaintext query bounds into a submittable query. time_span is in
seconds; range time bounds are seconds since midnight.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plain ingest.PlainQuery
			if err := decodeInput(cmd, args[0], &plain); err != nil {
				return err
			}
			engine, err := loadEngine(publicKey)
			if err != nil {
				return err
			}
			q, err := ingest.EncryptQuery(engine, plain)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, q)
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "keys/bgv.pk", "BGV public key file")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}
