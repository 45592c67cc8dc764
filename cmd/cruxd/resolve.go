package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kalamay/crux/clock"
	"github.com/kalamay/crux/internal/dns"
)

var resolveServers []string

var resolveCmd = &cobra.Command{
	Use:   "resolve [name]",
	Short: "run the resolver standalone and print the flattened record list",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringSliceVar(&resolveServers, "server", []string{"8.8.8.8:53"}, "DNS servers to query, tried in order")
}

func runResolve(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg := dns.DefaultResolverConfig()
	cfg.Servers = resolveServers

	cache := dns.NewCache(clock.Monotonic())
	resolver := dns.NewResolver(cfg, cache, clock.Monotonic())

	results, err := resolver.Resolve(name)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("no records found")
		return nil
	}
	for _, r := range results {
		if r.Priority != 0 || r.Port != 0 {
			fmt.Printf("%s\t%s\tpriority=%d weight=%d port=%d\tttl=%s\n",
				r.Name, r.Addr, r.Priority, r.Weight, r.Port, r.TTL)
		} else {
			fmt.Printf("%s\t%s\tttl=%s\n", r.Name, r.Addr, r.TTL)
		}
	}
	return nil
}
