package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	cfg "github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/node"
	"github.com/celestiaorg/mppay/store"
	"github.com/celestiaorg/mppay/types"
)

// InvoiceCmd groups the commands managing the local invoice database. The
// database is locked while the plugin runs; use the mpp-addinvoice RPC
// method then.
var InvoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Manage the invoices settled by the plugin",
}

var (
	invoiceAmount   string
	invoicePreimage string
	invoiceLabel    string

	// dbProvider is swapped in tests.
	dbProvider cfg.DBProvider = cfg.DefaultDBProvider
)

var addInvoiceCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an invoice",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := types.ParseMilliSatoshi(invoiceAmount)
		if err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("--amount-msat must be positive")
		}

		var preimage types.Preimage
		if invoicePreimage != "" {
			preimage, err = types.PreimageFromHex(invoicePreimage)
		} else {
			preimage, err = types.RandPreimage()
		}
		if err != nil {
			return err
		}

		inv := types.Invoice{
			PaymentHash: preimage.Hash(),
			Amount:      amount,
			Preimage:    preimage,
			Label:       invoiceLabel,
			Status:      types.InvoiceUnpaid,
		}
		return withInvoiceStore(func(s *store.InvoiceStore) error {
			if err := s.Save(inv); err != nil {
				return err
			}
			logger.Info("Added invoice", "payment_hash", inv.PaymentHash, "amount", inv.Amount)
			return printJSON(cmd.OutOrStdout(), inv)
		})
	},
}

var listInvoicesCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered invoices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvoiceStore(func(s *store.InvoiceStore) error {
			invoices, err := s.List()
			if err != nil {
				return err
			}
			if invoices == nil {
				invoices = []types.Invoice{}
			}
			return printJSON(cmd.OutOrStdout(), invoices)
		})
	},
}

var removeInvoiceCmd = &cobra.Command{
	Use:     "rm <payment_hash>",
	Aliases: []string{"remove"},
	Short:   "Remove an invoice",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := types.PaymentHashFromHex(args[0])
		if err != nil {
			return err
		}
		return withInvoiceStore(func(s *store.InvoiceStore) error {
			if err := s.Delete(hash); err != nil {
				return err
			}
			logger.Info("Removed invoice", "payment_hash", hash)
			return nil
		})
	},
}

func init() {
	addInvoiceCmd.Flags().StringVar(&invoiceAmount, "amount-msat", "", "invoice amount, e.g. 150000 or 150000msat")
	addInvoiceCmd.Flags().StringVar(&invoicePreimage, "preimage", "", "hex preimage; a random one is generated if empty")
	addInvoiceCmd.Flags().StringVar(&invoiceLabel, "label", "", "free-form label")
	_ = addInvoiceCmd.MarkFlagRequired("amount-msat")

	InvoiceCmd.AddCommand(addInvoiceCmd, listInvoicesCmd, removeInvoiceCmd)
}

func withInvoiceStore(fn func(s *store.InvoiceStore) error) error {
	s, err := node.OpenInvoiceStore(config, dbProvider)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
