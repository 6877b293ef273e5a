package call

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsteenb2/voltdb/client"
	"github.com/jsteenb2/voltdb/cmd/util"
	"github.com/jsteenb2/voltdb/wire"
)

var CallCmd = &cobra.Command{
	Use:   "call PROCEDURE [PARAM...]",
	Short: "Invoke a stored procedure once and print the result",
	Long: util.WrapString("Connects to the configured cluster hosts, invokes the named " +
		"stored procedure with the given parameters and prints the response. " +
		"Parameters parse as integers, then floats, then strings."),
	Args:    cobra.MinimumNArgs(1),
	RunE:    run,
	PreRunE: func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
}

func init() {
	util.SetupClientFlags(CallCmd)

	key := "stats"
	CallCmd.Flags().Bool(key, false, util.WrapString("Print the procedure statistics table after the call"))
}

func run(_ *cobra.Command, args []string) error {
	dist := client.NewDistributor(util.GetClientConfig())
	defer dist.Shutdown()

	user, hashedPassword := util.GetCredentials()
	for _, host := range util.GetServers() {
		if err := dist.CreateConnection(host, util.GetPort(), user, hashedPassword); err != nil {
			return fmt.Errorf("connect to %s: %w", host, err)
		}
	}

	inv := wire.NewInvocation(1, args[0], parseParams(args[1:])...)
	done := make(chan *wire.Response, 1)
	queued, err := dist.Queue(inv, func(resp *wire.Response) { done <- resp }, true)
	if err != nil {
		return err
	}
	if !queued {
		return fmt.Errorf("invocation was not queued")
	}
	resp := <-done

	fmt.Printf("status       : %s\n", resp.Status)
	if resp.StatusString != "" {
		fmt.Printf("status detail: %s\n", resp.StatusString)
	}
	fmt.Printf("client rtt   : %d ms\n", resp.ClientRoundTrip)
	fmt.Printf("cluster rtt  : %d ms\n", resp.ClusterRoundTrip)
	for i, result := range resp.Results {
		fmt.Printf("\nresult table %d:\n%s", i, result.String())
	}

	if viper.GetBool("stats") {
		fmt.Printf("\n%s", dist.GetProcedureStats(false).String())
	}
	return nil
}

// parseParams converts CLI arguments to typed invocation parameters
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, a := range args {
		if n, err := strconv.ParseInt(a, 10, 64); err == nil {
			params = append(params, n)
			continue
		}
		if f, err := strconv.ParseFloat(a, 64); err == nil {
			params = append(params, f)
			continue
		}
		params = append(params, a)
	}
	return params
}
