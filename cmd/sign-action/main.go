package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"

	"github.com/uhyunpark/dexgate/pkg/crypto"
	"github.com/uhyunpark/dexgate/pkg/protocol"
	"github.com/uhyunpark/dexgate/pkg/txflow"
)

// signAction prints the submission the gateway would send for one action,
// then checks the signature against the signing address.
func signAction(ctx context.Context, cmd *cli.Command) error {
	var (
		key *crypto.Signer
		err error
	)
	if seed := cmd.String("seed"); seed != "" {
		key, err = crypto.FromSeedPhrase(seed)
	} else {
		fmt.Println("No seed phrase given, generating a throwaway key...")
		key, err = crypto.GenerateKey()
	}
	if err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}
	fmt.Printf("Address: %s\n\n", key.Address().Hex())

	act, err := pendingFromFlags(cmd)
	if err != nil {
		return err
	}

	signer := crypto.NewActionSigner(key, crypto.DefaultDomain())
	tx, err := txflow.Sign(signer, act)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	fmt.Println("Signed submission (JSON):")
	fmt.Println(string(txJSON))
	fmt.Println()

	sig, err := hex.DecodeString(strings.TrimPrefix(tx.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("bad signature encoding: %w", err)
	}
	typed := act.Typed()
	typed.Owner = key.Address()
	valid, err := signer.Verify(typed, sig)
	if err != nil {
		return fmt.Errorf("failed to verify: %w", err)
	}
	if !valid {
		return fmt.Errorf("signature invalid")
	}
	fmt.Println("Signature valid")
	return nil
}

func pendingFromFlags(cmd *cli.Command) (txflow.PendingAction, error) {
	act := txflow.PendingAction{
		Kind:      protocol.Action(cmd.String("action")),
		Token:     cmd.String("token"),
		Direction: cmd.String("direction"),
	}

	var err error
	if act.Price, err = decimalFlag(cmd, "price"); err != nil {
		return act, err
	}
	if act.Amount, err = decimalFlag(cmd, "amount"); err != nil {
		return act, err
	}
	if raw := cmd.String("order-id"); raw != "" {
		if act.OrderID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return act, fmt.Errorf("invalid --order-id %q: %w", raw, err)
		}
	}

	switch act.Kind {
	case protocol.ActionCreateLimitOrder, protocol.ActionCreateMarketOrder,
		protocol.ActionCancelLimitOrder, protocol.ActionDeposit, protocol.ActionWithdraw:
		return act, nil
	}
	return act, fmt.Errorf("unsupported --action %q", act.Kind)
}

func decimalFlag(cmd *cli.Command, name string) (decimal.Decimal, error) {
	raw := cmd.String(name)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return d, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return d, nil
}

func main() {
	cmd := &cli.Command{
		Name:  "sign-action",
		Usage: "Sign a gateway action offline and print the submission",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "seed",
				Usage:   "12-word seed phrase of the signing account",
				Sources: cli.EnvVars("SEED_PHRASE"),
			},
			&cli.StringFlag{
				Name:     "action",
				Aliases:  []string{"a"},
				Usage:    "createLimitOrder, createMarketOrder, cancelLimitOrder, deposit or withdraw",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "token",
				Aliases:  []string{"t"},
				Usage:    "Token symbol, e.g. ETH",
				Required: true,
			},
			&cli.StringFlag{Name: "direction", Usage: "Buy or Sell"},
			&cli.StringFlag{Name: "price", Usage: "Limit or cancel price"},
			&cli.StringFlag{Name: "amount", Usage: "Order or transfer amount"},
			&cli.StringFlag{Name: "order-id", Usage: "Order to cancel"},
		},
		Action: signAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
