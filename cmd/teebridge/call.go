package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/govm-net/teebridge/state"
	_ "github.com/govm-net/teebridge/state/leveldb"
	_ "github.com/govm-net/teebridge/state/memory"
	_ "github.com/govm-net/teebridge/state/sqlite"
	"github.com/govm-net/teebridge/types"
	"github.com/govm-net/teebridge/vm"
)

var (
	callContract string
	callSender   string
	callMsg      string
	callGas      uint64
	callAdmin    string
	callLabel    string
	callHeight   uint64
)

var callCmd = &cobra.Command{
	Use:   "call <instantiate|execute|query|migrate> <checksum>",
	Short: "Run a lifecycle call against the configured store",
	Long: `Run one lifecycle call of stored code against the store named in the
configuration (memory, leveldb or sqlite).
Example: teebridge call execute 3f2a... --contract counter1 --sender alice --msg '{"increment":{}}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		checksum, ok := types.ChecksumFromString(args[1])
		if !ok {
			return fmt.Errorf("invalid checksum %q", args[1])
		}

		d, cfg, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer vm.Shutdown()

		store, err := state.Open(state.StoreType(cfg.Store.Type), cfg.Store.Params)
		if err != nil {
			return fmt.Errorf("failed to open store (registered: %v): %w", state.ListRegistered(), err)
		}
		defer store.Close()

		env, err := json.Marshal(types.Env{
			Block: types.BlockInfo{
				Height:  callHeight,
				Time:    uint64(time.Now().UnixNano()),
				ChainID: "teebridge-local",
			},
			Contract: types.ContractInfo{Address: callContract},
		})
		if err != nil {
			return err
		}
		info, err := json.Marshal(types.MessageInfo{Sender: callSender, Funds: []types.Coin{}})
		if err != nil {
			return err
		}

		req := vm.Request{
			Checksum: checksum,
			Store:    store,
			Env:      env,
			Info:     info,
			Msg:      []byte(callMsg),
			GasLimit: callGas,
			Admin:    callAdmin,
			Label:    callLabel,
		}

		var res *vm.Result
		var gasUsed uint64
		switch args[0] {
		case vm.OpInstantiate:
			res, gasUsed, err = d.Instantiate(req)
		case vm.OpExecute:
			res, gasUsed, err = d.Execute(req)
		case vm.OpQuery:
			res, gasUsed, err = d.Query(req)
		case vm.OpMigrate:
			res, gasUsed, err = d.Migrate(req)
		default:
			return fmt.Errorf("unknown entry point %q", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Gas used: %d\n", gasUsed)
		if err != nil {
			return fmt.Errorf("%s failed: %w", args[0], err)
		}

		if res.Data != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Data: %s\n", strconv.Quote(string(res.Data)))
		}
		for _, ev := range res.Events {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", ev.Key, ev.Value)
		}
		return nil
	},
}

func init() {
	callCmd.Flags().StringVar(&callContract, "contract", "", "Contract instance address (required)")
	callCmd.Flags().StringVar(&callSender, "sender", "", "Message sender")
	callCmd.Flags().StringVarP(&callMsg, "msg", "m", "{}", "Message JSON")
	callCmd.Flags().Uint64Var(&callGas, "gas", 10_000_000, "Gas limit")
	callCmd.Flags().StringVar(&callAdmin, "admin", "", "Instance admin recorded by instantiate")
	callCmd.Flags().StringVar(&callLabel, "label", "", "Instance label recorded by instantiate")
	callCmd.Flags().Uint64Var(&callHeight, "height", 1, "Block height")
	callCmd.MarkFlagRequired("contract")
}
