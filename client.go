package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"marketplace-escrow/client"
	"marketplace-escrow/config"
	"marketplace-escrow/model"
	swapUsecase "marketplace-escrow/usecase/swap"
)

var serverURL string

func newClient(cmd *cobra.Command) *client.Client {
	cfg := config.FromContext(cmd.Context())
	base := serverURL
	if base == "" {
		host := cfg.BindAddr
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		base = fmt.Sprintf("http://%s:%d", host, cfg.Port)
	}
	level := slog.LevelWarn
	if globalFlags.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return client.New(base,
		client.WithProgramID(cfg.ProgramPublicKey()),
		client.WithLogger(logger),
	)
}

func printJSON(v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}

func parseAddress(s string) (model.PublicKey, error) {
	addr, err := model.ParsePublicKey(s)
	if err != nil {
		return model.PublicKey{}, fmt.Errorf("invalid address: %w", err)
	}
	return addr, nil
}

// lamportsFlag は --price (lamports) と --price-sol (小数の SOL) のどちらかを読む
func lamportsFlag(cmd *cobra.Command, lamportsName, solName string) (uint64, bool, error) {
	if cmd.Flags().Changed(solName) {
		s, _ := cmd.Flags().GetString(solName)
		v, err := swapUsecase.ToBaseUnits(s, swapUsecase.TokenSOL.Decimals)
		return v, true, err
	}
	if cmd.Flags().Changed(lamportsName) {
		v, _ := cmd.Flags().GetUint64(lamportsName)
		return v, true, nil
	}
	return 0, false, nil
}

func withURL(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringVar(&serverURL, "url", "", "API base URL (defaults to the configured bind address)")
	return cmd
}

func withSigner(cmd *cobra.Command) *cobra.Command {
	keypairFlag(cmd)
	return withURL(cmd)
}

func clientCommands() []*cobra.Command {
	return []*cobra.Command{
		listItemCommand(),
		setStatusCommand(),
		buyCommand(),
		closeCommand(),
		showCommand(),
		itemsCommand(),
		balanceCommand(),
		airdropCommand(),
		quoteCommand(),
	}
}

func listItemCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "list-item <name>",
		Short: "List a new item for sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, ok, err := lamportsFlag(cmd, "price", "price-sol")
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("--price or --price-sol is required")
			}
			kp, err := client.LoadKeypair(keypairPath)
			if err != nil {
				return err
			}
			receipt, err := newClient(cmd).ListItem(cmd.Context(), kp, args[0], description, price)
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "item description (max 256 bytes)")
	cmd.Flags().Uint64("price", 0, "price in lamports")
	cmd.Flags().String("price-sol", "", "price in SOL, e.g. 1.5")
	return withSigner(cmd)
}

func setStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-status <address> <name> <listed>",
		Short: "Change the listed flag and optionally the price of an item you own",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			listed, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("invalid listed value %q: %w", args[2], err)
			}
			var newPrice *uint64
			price, ok, err := lamportsFlag(cmd, "price", "price-sol")
			if err != nil {
				return err
			}
			if ok {
				newPrice = &price
			}
			kp, err := client.LoadKeypair(keypairPath)
			if err != nil {
				return err
			}
			receipt, err := newClient(cmd).SetListingStatus(cmd.Context(), kp, addr, args[1], listed, newPrice)
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
	cmd.Flags().Uint64("price", 0, "new price in lamports")
	cmd.Flags().String("price-sol", "", "new price in SOL")
	return withSigner(cmd)
}

func buyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy <address> <name>",
		Short: "Buy a listed item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			kp, err := client.LoadKeypair(keypairPath)
			if err != nil {
				return err
			}
			receipt, err := newClient(cmd).BuyItem(cmd.Context(), kp, addr, args[1])
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
	return withSigner(cmd)
}

func closeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <address>",
		Short: "Close an item you own and reclaim its rent deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			kp, err := client.LoadKeypair(keypairPath)
			if err != nil {
				return err
			}
			receipt, err := newClient(cmd).CloseItem(cmd.Context(), kp, addr)
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
	return withSigner(cmd)
}

func showCommand() *cobra.Command {
	var activity bool
	cmd := &cobra.Command{
		Use:   "show <address>",
		Short: "Show an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			c := newClient(cmd)
			item, err := c.Item(cmd.Context(), addr)
			if err != nil {
				return err
			}
			if !activity {
				return printJSON(item)
			}
			history, err := c.Activity(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"item": item, "activity": history})
		},
	}
	cmd.Flags().BoolVar(&activity, "activity", false, "include the item's transaction history")
	return withURL(cmd)
}

func itemsCommand() *cobra.Command {
	var (
		seller        string
		listedOnly    bool
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List indexed items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := model.ItemFilter{Limit: limit, Offset: offset}
			if seller != "" {
				pk, err := parseAddress(seller)
				if err != nil {
					return err
				}
				filter.Seller = &pk
			}
			if listedOnly {
				filter.Listed = &listedOnly
			}
			items, err := newClient(cmd).Items(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	cmd.Flags().StringVar(&seller, "seller", "", "only items owned by this seller")
	cmd.Flags().BoolVar(&listedOnly, "listed", false, "only items currently for sale")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of items")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of items to skip")
	return withURL(cmd)
}

func balanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance [address]",
		Short: "Show an account balance (defaults to the keypair's)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressOrKeypair(args)
			if err != nil {
				return err
			}
			lamports, err := newClient(cmd).Balance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			sol, err := swapUsecase.FromBaseUnits(strconv.FormatUint(lamports, 10), swapUsecase.TokenSOL.Decimals)
			if err != nil {
				return err
			}
			fmt.Printf("%d lamports (%s SOL)\n", lamports, sol)
			return nil
		},
	}
	return withSigner(cmd)
}

func airdropCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "airdrop <lamports> [address]",
		Short: "Request lamports from the development faucet",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lamports, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid lamports %q: %w", args[0], err)
			}
			addr, err := addressOrKeypair(args[1:])
			if err != nil {
				return err
			}
			balance, err := newClient(cmd).Airdrop(cmd.Context(), addr, lamports)
			if err != nil {
				return err
			}
			fmt.Printf("Balance: %d lamports\n", balance)
			return nil
		},
	}
	return withSigner(cmd)
}

func quoteCommand() *cobra.Command {
	var (
		item     string
		slippage int
	)
	cmd := &cobra.Command{
		Use:   "quote [<from> <to> <amount>]",
		Short: "Quote a token swap, or an item's price in another token with --item",
		Args:  cobra.RangeArgs(0, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd)
			ctx := cmd.Context()
			if item != "" {
				addr, err := parseAddress(item)
				if err != nil {
					return err
				}
				token := "USDC"
				if len(args) > 0 {
					token = args[0]
				}
				pq, err := c.QuoteItemPrice(ctx, addr, token)
				if err != nil {
					return err
				}
				return printJSON(pq)
			}
			if len(args) != 3 {
				return fmt.Errorf("expected <from> <to> <amount>")
			}
			sq, err := c.Quote(ctx, args[0], args[1], args[2], slippage)
			if err != nil {
				return err
			}
			return printJSON(sq)
		},
	}
	cmd.Flags().StringVar(&item, "item", "", "item address to price")
	cmd.Flags().IntVar(&slippage, "slippage-bps", 0, "slippage tolerance in basis points")
	return withURL(cmd)
}

func addressOrKeypair(args []string) (model.PublicKey, error) {
	if len(args) > 0 {
		return parseAddress(args[0])
	}
	kp, err := client.LoadKeypair(keypairPath)
	if err != nil {
		return model.PublicKey{}, err
	}
	return kp.PublicKey, nil
}
