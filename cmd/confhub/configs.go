package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confhub/internal/client"
	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/ui"
)

var getCmd = &cobra.Command{
	Use:     "get <namespace> <key>",
	Short:   "Show a config item",
	GroupID: "configs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := confClient.GetConfig(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetBool("raw")
		if raw {
			fmt.Fprintln(cmd.OutOrStdout(), displayValue(item.Value, false, true))
			return nil
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), item)
		}
		reveal, _ := cmd.Flags().GetBool("reveal")
		printItem(cmd.OutOrStdout(), item, reveal)
		return nil
	},
}

var metaCmd = &cobra.Command{
	Use:     "meta <namespace> [<key>]",
	Short:   "Show version metadata for one item or a whole namespace",
	GroupID: "configs",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var metas []model.ItemMeta
		if len(args) == 2 {
			m, err := confClient.GetMeta(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			metas = []model.ItemMeta{*m}
		} else {
			list, err := confClient.ListMeta(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			metas = list
		}
		if jsonOutput {
			if len(args) == 2 {
				return printJSON(cmd.OutOrStdout(), metas[0])
			}
			return printJSON(cmd.OutOrStdout(), metas)
		}
		printMetaTable(cmd.OutOrStdout(), metas)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <namespace> <key> [<value>]",
	Short: "Create or update a config item",
	Long: `Create or update a config item.

The value is parsed as JSON when possible and stored as a string otherwise;
--type forces an interpretation. When the value is omitted it is read from
stdin, without echo when stdin is a terminal.`,
	GroupID: "configs",
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, key := args[0], args[1]
		raw, err := valueArg(args)
		if err != nil {
			return err
		}
		typ, _ := cmd.Flags().GetString("type")
		value, valueType, err := parseValue(raw, typ)
		if err != nil {
			return err
		}
		schema, err := schemaFlag(cmd)
		if err != nil {
			return err
		}

		item, err := upsert(cmd, ns, key, value, valueType, schema)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), item)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s now at version %d\n", ns, ui.RenderAccent(key), item.Version)
		return nil
	},
}

// upsert creates the item when absent and otherwise patches only the
// attributes given on the command line.
func upsert(cmd *cobra.Command, ns, key string, value model.Value, valueType model.ValueType, schema json.RawMessage) (*model.ConfigItem, error) {
	ctx := cmd.Context()
	flags := cmd.Flags()
	description, _ := flags.GetString("description")
	secret, _ := flags.GetBool("secret")
	public, _ := flags.GetBool("public")
	disabled, _ := flags.GetBool("disabled")
	note, _ := flags.GetString("note")

	_, err := confClient.GetConfig(ctx, ns, key)
	if client.IsNotFound(err) {
		enabled := !disabled
		return confClient.CreateConfig(ctx, ns, configsvc.CreateRequest{
			Key:         key,
			Value:       value,
			ValueType:   valueType,
			Description: description,
			IsEncrypted: secret,
			IsPublic:    public,
			Schema:      schema,
			Enabled:     &enabled,
			ChangeNote:  note,
		})
	}
	if err != nil {
		return nil, err
	}

	req := configsvc.UpdateRequest{Value: &value, ChangeNote: note}
	if flags.Changed("type") {
		req.ValueType = &valueType
	}
	if flags.Changed("description") {
		req.Description = &description
	}
	if flags.Changed("secret") {
		req.IsEncrypted = &secret
	}
	if flags.Changed("public") {
		req.IsPublic = &public
	}
	if flags.Changed("disabled") {
		enabled := !disabled
		req.Enabled = &enabled
	}
	if schema != nil {
		req.Schema = &schema
	}
	return confClient.UpdateConfig(ctx, ns, key, req)
}

func valueArg(args []string) (string, error) {
	if len(args) == 3 {
		return args[2], nil
	}
	if ui.IsInteractive() {
		fmt.Fprint(os.Stderr, "Value: ")
		v, err := ui.ReadSecret()
		fmt.Fprintln(os.Stderr)
		return v, err
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading value from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// parseValue interprets raw according to typ (string, number, boolean, json,
// or empty for auto-detection).
func parseValue(raw, typ string) (model.Value, model.ValueType, error) {
	switch strings.ToLower(typ) {
	case "":
		v, err := model.ParseValue([]byte(raw))
		if err != nil {
			v = model.StringValue(raw)
		}
		return v, v.InferType(), nil
	case "string":
		return model.StringValue(raw), model.ValueTypeString, nil
	case "number":
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return model.Value{}, "", fmt.Errorf("value %q is not a number", raw)
		}
		return model.NumberValue(f), model.ValueTypeNumber, nil
	case "boolean", "bool":
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return model.Value{}, "", fmt.Errorf("value %q is not a boolean", raw)
		}
		return model.BoolValue(b), model.ValueTypeBoolean, nil
	case "json":
		v, err := model.ParseValue([]byte(raw))
		if err != nil {
			return model.Value{}, "", err
		}
		return v, model.ValueTypeJSON, nil
	}
	return model.Value{}, "", fmt.Errorf("unknown type %q (must be string, number, boolean or json)", typ)
}

// schemaFlag reads --schema as inline JSON or, failing that, as a file path.
func schemaFlag(cmd *cobra.Command) (json.RawMessage, error) {
	s, _ := cmd.Flags().GetString("schema")
	if s == "" {
		return nil, nil
	}
	data := []byte(s)
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		var err error
		if data, err = os.ReadFile(s); err != nil {
			return nil, fmt.Errorf("reading schema: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("schema is not valid JSON")
	}
	return json.RawMessage(data), nil
}

var rmCmd = &cobra.Command{
	Use:     "rm <namespace> <key>",
	Short:   "Delete a config item",
	GroupID: "configs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confClient.DeleteConfig(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", args[0], args[1])
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:     "rollback <namespace> <key> <version>",
	Short:   "Restore an item to an earlier version",
	GroupID: "configs",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[2])
		if err != nil || version < 1 {
			return fmt.Errorf("version must be a positive integer")
		}
		note, _ := cmd.Flags().GetString("note")
		item, err := confClient.Rollback(cmd.Context(), args[0], args[1], version, note)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), item)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s restored from version %d, now at version %d\n", args[0], args[1], version, item.Version)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history <namespace> <key>",
	Short:   "Show the version history of an item",
	GroupID: "configs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		resp, err := confClient.History(cmd.Context(), args[0], args[1], model.Page{Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		reveal, _ := cmd.Flags().GetBool("reveal")
		printHistoryTable(cmd.OutOrStdout(), resp.History, resp.Total, reveal)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list <namespace>",
	Short:   "List config items in a namespace",
	GroupID: "configs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		filter := model.ItemFilter{}
		filter.KeyPrefix, _ = flags.GetString("prefix")
		filter.Limit, _ = flags.GetInt("limit")
		filter.Offset, _ = flags.GetInt("offset")
		if flags.Changed("enabled") {
			v, _ := flags.GetBool("enabled")
			filter.Enabled = &v
		}
		if flags.Changed("public") {
			v, _ := flags.GetBool("public")
			filter.Public = &v
		}

		res, err := confClient.ListConfigs(cmd.Context(), args[0], filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		reveal, _ := flags.GetBool("reveal")
		printItemTable(cmd.OutOrStdout(), res.Items, res.Total, reveal)
		return nil
	},
}

var batchGetCmd = &cobra.Command{
	Use:     "batch-get <namespace> <key>...",
	Short:   "Fetch several items in one request",
	GroupID: "configs",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := confClient.BatchGet(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		reveal, _ := cmd.Flags().GetBool("reveal")
		printItemTable(cmd.OutOrStdout(), resp.Items, len(resp.Items), reveal)
		if len(resp.Missing) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.RenderWarn("missing:"), strings.Join(resp.Missing, ", "))
		}
		return nil
	},
}

func init() {
	getCmd.Flags().Bool("reveal", false, "show encrypted values")
	getCmd.Flags().Bool("raw", false, "print only the value")

	setCmd.Flags().String("type", "", "value type: string, number, boolean or json (default: detect)")
	setCmd.Flags().String("description", "", "item description")
	setCmd.Flags().Bool("secret", false, "encrypt the value at rest")
	setCmd.Flags().Bool("public", false, "expose the value on the anonymous public endpoint")
	setCmd.Flags().Bool("disabled", false, "store the item disabled")
	setCmd.Flags().String("schema", "", "JSON schema (inline JSON or a file path)")
	setCmd.Flags().String("note", "", "change note recorded in history")

	rollbackCmd.Flags().String("note", "", "change note recorded in history")

	historyCmd.Flags().Int("limit", 0, "maximum entries to return")
	historyCmd.Flags().Int("offset", 0, "entries to skip")
	historyCmd.Flags().Bool("reveal", false, "show encrypted values")

	listCmd.Flags().String("prefix", "", "only keys starting with this prefix")
	listCmd.Flags().Bool("enabled", false, "filter by enabled state")
	listCmd.Flags().Bool("public", false, "filter by public flag")
	listCmd.Flags().Int("limit", 0, "maximum items to return")
	listCmd.Flags().Int("offset", 0, "items to skip")
	listCmd.Flags().Bool("reveal", false, "show encrypted values")

	batchGetCmd.Flags().Bool("reveal", false, "show encrypted values")
}

