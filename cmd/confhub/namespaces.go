package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confhub/internal/model"
)

var nsCmd = &cobra.Command{
	Use:     "ns",
	Short:   "Manage namespaces",
	GroupID: "namespaces",
}

var nsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		display, _ := cmd.Flags().GetString("display-name")
		description, _ := cmd.Flags().GetString("description")
		disabled, _ := cmd.Flags().GetBool("disabled")
		if display == "" {
			display = args[0]
		}
		in := model.NamespaceInput{Name: args[0], DisplayName: display, Description: description}
		if disabled {
			enabled := false
			in.Enabled = &enabled
		}

		ns, err := confClient.CreateNamespace(cmd.Context(), in)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ns)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created namespace %s (%s)\n", ns.Name, ns.ID)
		return nil
	},
}

var nsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := model.NamespaceFilter{}
		filter.Search, _ = cmd.Flags().GetString("search")
		if cmd.Flags().Changed("enabled") {
			v, _ := cmd.Flags().GetBool("enabled")
			filter.Enabled = &v
		}
		list, err := confClient.ListNamespaces(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), list)
		}
		printNamespaceTable(cmd.OutOrStdout(), list)
		return nil
	},
}

var nsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := confClient.GetNamespace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ns)
		}
		printNamespace(cmd.OutOrStdout(), ns)
		return nil
	},
}

var nsUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Change a namespace's display name, description or enabled state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var patch model.NamespacePatch
		if flags.Changed("display-name") {
			v, _ := flags.GetString("display-name")
			patch.DisplayName = &v
		}
		if flags.Changed("description") {
			v, _ := flags.GetString("description")
			patch.Description = &v
		}
		if flags.Changed("enabled") {
			v, _ := flags.GetBool("enabled")
			patch.Enabled = &v
		}
		if patch.IsEmpty() {
			return fmt.Errorf("nothing to update; pass --display-name, --description or --enabled")
		}

		ns, err := confClient.UpdateNamespace(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ns)
		}
		printNamespace(cmd.OutOrStdout(), ns)
		return nil
	},
}

var nsRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete an empty namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confClient.DeleteNamespace(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted namespace %s\n", args[0])
		return nil
	},
}

func init() {
	nsCreateCmd.Flags().String("display-name", "", "human-readable name (default: the name)")
	nsCreateCmd.Flags().String("description", "", "description")
	nsCreateCmd.Flags().Bool("disabled", false, "create the namespace disabled")

	nsListCmd.Flags().String("search", "", "substring of name or display name")
	nsListCmd.Flags().Bool("enabled", false, "filter by enabled state")

	nsUpdateCmd.Flags().String("display-name", "", "new display name")
	nsUpdateCmd.Flags().String("description", "", "new description")
	nsUpdateCmd.Flags().Bool("enabled", true, "enable or disable the namespace")

	nsCmd.AddCommand(nsCreateCmd)
	nsCmd.AddCommand(nsListCmd)
	nsCmd.AddCommand(nsShowCmd)
	nsCmd.AddCommand(nsUpdateCmd)
	nsCmd.AddCommand(nsRmCmd)
}
