package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"clobsim/internal/protocol"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string

	root := &cobra.Command{
		Use:   "exchange-client",
		Short: "Place, cancel, and watch orders against the exchange server",
	}
	root.PersistentFlags().StringVar(&server, "server", "127.0.0.1:9090", "address of the exchange server")

	root.AddCommand(newPlaceCmd(&server))
	root.AddCommand(newCancelCmd(&server))
	root.AddCommand(newWatchCmd(&server))

	return root
}

func newPlaceCmd(server *string) *cobra.Command {
	var (
		orderType string
		side      string
		orderID   int64
		price     int64
		quantity  uint64
	)

	cmd := &cobra.Command{
		Use:   "place",
		Short: "Submit a limit or market order",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := protocol.Inbound{
				Message:   protocol.MsgCreateOrder,
				OrderType: orderType,
				Side:      side,
				OrderID:   &orderID,
				Quantity:  &quantity,
			}
			if orderType == protocol.OrderTypeLimit {
				in.Price = &price
			}
			return sendAndPrintReports(*server, in)
		},
	}

	cmd.Flags().StringVar(&orderType, "type", protocol.OrderTypeLimit, "limit or market")
	cmd.Flags().StringVar(&side, "side", protocol.SideBuy, "BUY or SELL")
	cmd.Flags().Int64Var(&orderID, "order-id", 0, "trader-assigned order id")
	cmd.Flags().Int64Var(&price, "price", 0, "limit price (ignored for market orders)")
	cmd.Flags().Uint64Var(&quantity, "quantity", 0, "order quantity")

	return cmd
}

func newCancelCmd(server *string) *cobra.Command {
	var orderID int64

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a resting order by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := protocol.Inbound{
				Message: protocol.MsgCancelOrder,
				OrderID: &orderID,
			}
			return sendAndPrintReports(*server, in)
		},
	}

	cmd.Flags().Int64Var(&orderID, "order-id", 0, "order id to cancel")
	return cmd
}

func newWatchCmd(server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to depth-of-book broadcasts and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrintReports(*server, protocol.Inbound{Message: protocol.MsgSubscribeDepth})
		},
	}
}

// sendAndPrintReports sends one inbound message then blocks printing
// every frame the server sends back, until the connection closes.
func sendAndPrintReports(addr string, in protocol.Inbound) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	line, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	scanner := protocol.NewScanner(conn)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	return scanner.Err()
}
