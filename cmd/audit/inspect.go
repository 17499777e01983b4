package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	balanceLimit int
	tradesLimit  int
)

func init() {
	balanceCmd.Flags().IntVar(&balanceLimit, "limit", 20, "Number of ledger entries to show")
	tradesCmd.Flags().IntVar(&tradesLimit, "limit", 50, "Number of trades to show")
}

var balanceCmd = &cobra.Command{
	Use:   "balance <user>",
	Short: "Show a user's available balance and newest ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openCore()
		if err != nil {
			return err
		}
		defer app.Close()

		user := args[0]
		bal, err := app.Ledger.Verify(user)
		if err != nil {
			return err
		}
		entries, err := app.Ledger.Entries(user, balanceLimit)
		if err != nil {
			return err
		}

		if output == outputFlagValJSON {
			return printJSON(map[string]any{"user": user, "available": bal, "entries": entries})
		}
		fmt.Printf("%s: %d available\n\n", user, bal)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tKIND\tAMOUNT\tREFERENCE")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", e.ID, e.Timestamp.Format(time.RFC3339), e.Kind, e.Amount, e.Reference)
		}
		return w.Flush()
	},
}

var tradesCmd = &cobra.Command{
	Use:   "trades <market>",
	Short: "List a market's newest trades",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openCore()
		if err != nil {
			return err
		}
		defer app.Close()

		trades, err := app.Recorder.Trades(args[0], tradesLimit)
		if err != nil {
			return err
		}
		if output == outputFlagValJSON {
			return printJSON(trades)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tYES\tNO\tPRICE\tAMOUNT\tYES COST\tNO COST\tTAKER")
		for _, t := range trades {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				t.Seq, t.Timestamp.Format(time.RFC3339), t.YesUserID, t.NoUserID,
				t.Price, t.Amount, t.YesCost, t.NoCost, t.TakerSide)
		}
		return w.Flush()
	},
}

var positionsCmd = &cobra.Command{
	Use:   "positions <market>",
	Short: "Derive every user's exposure in a market from its trades",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openCore()
		if err != nil {
			return err
		}
		defer app.Close()

		positions, err := app.Recorder.Positions(args[0])
		if err != nil {
			return err
		}
		if output == outputFlagValJSON {
			return printJSON(positions)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tYES\tNO\tCOST")
		for _, p := range positions {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", p.UserID, p.YesHeld, p.NoHeld, p.Cost)
		}
		return w.Flush()
	},
}

var orderCmd = &cobra.Command{
	Use:   "order <id>",
	Short: "Show an order and its lifecycle log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openCore()
		if err != nil {
			return err
		}
		defer app.Close()

		o, err := app.Engine.Order(args[0])
		if err != nil {
			return err
		}
		evs, err := app.Recorder.OrderEvents(o.ID)
		if err != nil {
			return err
		}
		if output == outputFlagValJSON {
			return printJSON(map[string]any{"order": o, "events": evs})
		}
		fmt.Printf("%s %s %s@%d amount %d filled %d locked %d %s\n\n",
			o.ID, o.UserID, o.Side, o.Price, o.Amount, o.Filled, o.Locked, o.Status)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tEVENT\tFROM\tTO\tFILL\tTRADE")
		for _, e := range evs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.Seq, e.Timestamp.Format(time.RFC3339), e.Type, e.From, e.To, e.FillAmount, e.TradeID)
		}
		return w.Flush()
	},
}
