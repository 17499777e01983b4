package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
)

var errVerificationFailed = errors.New("verification failed")

type verifyResult struct {
	Users       int      `json:"users"`
	Entries     int      `json:"entries"`
	Deposits    int64    `json:"deposits"`
	Withdrawals int64    `json:"withdrawals"`
	Orders      int      `json:"orders"`
	Resting     int      `json:"resting"`
	Locked      int64    `json:"locked"`
	Problems    []string `json:"problems"`
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay the ledger and cross-check every order against it",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openCore()
		if err != nil {
			return err
		}
		defer app.Close()

		res := verifyResult{Problems: []string{}}

		// Invariant violations surface again through Engine.Verify below
		report, err := app.Ledger.Audit()
		if err != nil && !errors.Is(err, ledger.ErrInvariantViolation) {
			return err
		}
		if report != nil {
			res.Users = report.Users
			res.Entries = report.Entries
			res.Deposits = report.Deposits
			res.Withdrawals = report.Withdrawals

			users := make([]string, 0, len(report.Balances))
			for u := range report.Balances {
				users = append(users, u)
			}
			sort.Strings(users)
			for _, u := range users {
				if _, err := app.Ledger.Verify(u); err != nil {
					res.Problems = append(res.Problems, err.Error())
				}
			}
		}

		orders, err := app.Engine.Verify()
		if err != nil {
			return err
		}
		res.Orders = orders.Orders
		res.Resting = orders.Resting
		res.Locked = orders.Locked
		res.Problems = append(res.Problems, orders.Problems...)

		if output == outputFlagValJSON {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			fmt.Printf("ledger: %d users, %d entries, deposits %d, withdrawals %d\n",
				res.Users, res.Entries, res.Deposits, res.Withdrawals)
			fmt.Printf("orders: %d total, %d resting holding %d\n", res.Orders, res.Resting, res.Locked)
			for _, p := range res.Problems {
				fmt.Printf("PROBLEM: %s\n", p)
			}
			if len(res.Problems) == 0 {
				fmt.Println("OK")
			}
		}
		if len(res.Problems) > 0 {
			return fmt.Errorf("%w: %d problems", errVerificationFailed, len(res.Problems))
		}
		return nil
	},
}
