package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/client"
)

var workloadCmd = &cobra.Command{
	Use:     "workload",
	Aliases: []string{"wl"},
	Short:   "Manage workloads",
}

var workloadCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		image, _ := cmd.Flags().GetString("image")
		port, _ := cmd.Flags().GetInt("port")
		path, _ := cmd.Flags().GetString("path")
		network, _ := cmd.Flags().GetString("network")
		timeout, _ := cmd.Flags().GetInt("timeout")
		envVars, _ := cmd.Flags().GetStringSlice("env")
		command, _ := cmd.Flags().GetStringSlice("command")

		env, err := parseEnv(envVars)
		if err != nil {
			return err
		}

		req := &api.CreateWorkloadRequest{
			Name:    args[0],
			Tenant:  tenant,
			Image:   image,
			Port:    port,
			Path:    path,
			Env:     env,
			Command: command,
			Network: network,
			Timeout: timeout,
		}
		if cmd.Flags().Changed("max-retries") {
			retries, _ := cmd.Flags().GetInt("max-retries")
			req.MaxRetries = &retries
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		w, err := c.CreateWorkload(req)
		if err != nil {
			return fmt.Errorf("failed to create workload: %w", err)
		}

		fmt.Printf("✓ Workload created: %s\n", w.Name)
		fmt.Printf("  ID: %s\n", w.ID)
		fmt.Printf("  Image: %s\n", w.Image)
		fmt.Printf("  State: %s\n", w.State)
		return nil
	},
}

var workloadListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		workloads, err := c.ListWorkloads(tenant)
		if err != nil {
			return fmt.Errorf("failed to list workloads: %w", err)
		}
		if len(workloads) == 0 {
			fmt.Println("No workloads found")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTENANT\tIMAGE\tSTATE\tRETRIES")
		for _, w := range workloads {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", w.ID, w.Name, w.Tenant, w.Image, w.State, w.Retries)
		}
		return tw.Flush()
	},
}

var workloadGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		w, err := c.GetWorkload(args[0])
		if err != nil {
			return fmt.Errorf("failed to get workload: %w", err)
		}

		fmt.Printf("Workload: %s\n", w.Name)
		fmt.Printf("  ID: %s\n", w.ID)
		fmt.Printf("  Tenant: %s\n", w.Tenant)
		fmt.Printf("  Image: %s\n", w.Image)
		fmt.Printf("  State: %s\n", w.State)
		if w.ContainerID != "" {
			fmt.Printf("  Container: %s\n", w.ContainerID)
		}
		if w.NetworkIP != "" {
			fmt.Printf("  IP: %s\n", w.NetworkIP)
		}
		if w.LastAction != "" {
			fmt.Printf("  Last Action: %s (%d/%d retries)\n", w.LastAction, w.Retries, w.MaxRetries)
		}
		return nil
	},
}

var workloadRemoveCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Remove a deleted workload and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.RemoveWorkload(args[0]); err != nil {
			return fmt.Errorf("failed to remove workload: %w", err)
		}
		fmt.Printf("Workload %s removed\n", args[0])
		return nil
	},
}

var workloadLogsCmd = &cobra.Command{
	Use:   "logs ID",
	Short: "Show a workload's history and runtime logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		entries, err := c.Logs(args[0], source)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}
		for _, e := range entries {
			ts := e.CreatedAt
			if e.RuntimeTimestamp != nil {
				ts = *e.RuntimeTimestamp
			}
			fmt.Printf("%s [%s] %-7s %s\n", ts.Format("2006-01-02T15:04:05.000Z07:00"), e.Source, e.Level, e.Message)
		}
		return nil
	},
}

func init() {
	workloadCmd.AddCommand(workloadCreateCmd)
	workloadCmd.AddCommand(workloadListCmd)
	workloadCmd.AddCommand(workloadGetCmd)
	workloadCmd.AddCommand(workloadLogsCmd)
	workloadCmd.AddCommand(workloadRemoveCmd)

	workloadCreateCmd.Flags().String("tenant", "", "Owning tenant")
	workloadCreateCmd.Flags().String("image", "", "Container image (required)")
	workloadCreateCmd.Flags().Int("port", 0, "Port the container listens on")
	workloadCreateCmd.Flags().String("path", "", "Path the workload is served under")
	workloadCreateCmd.Flags().String("network", "", "Daemon network to attach to")
	workloadCreateCmd.Flags().Int("timeout", 0, "Seconds allowed per daemon call (0 = server default)")
	workloadCreateCmd.Flags().Int("max-retries", 0, "Reconciliation retry budget (default: server default)")
	workloadCreateCmd.Flags().StringSliceP("env", "e", nil, "Environment variables (KEY=VALUE)")
	workloadCreateCmd.Flags().StringSlice("command", nil, "Command override")
	_ = workloadCreateCmd.MarkFlagRequired("image")

	workloadListCmd.Flags().String("tenant", "", "Only list this tenant's workloads")
	workloadLogsCmd.Flags().String("source", "", "Only show entries from this source (object, task, action, runtime)")
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	return client.NewClient(addr)
}

func parseEnv(vars []string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(vars))
	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env var %q (expected KEY=VALUE)", kv)
		}
		env[key] = value
	}
	return env, nil
}
