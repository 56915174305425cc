package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/model"
)

// maxImportBatch matches the server's batch limit.
const maxImportBatch = configsvc.MaxBatchKeys

// importEntry is the long form of an imported key. The short form is a bare
// value.
type importEntry struct {
	Value       any    `yaml:"value"`
	Description string `yaml:"description"`
	Secret      bool   `yaml:"secret"`
	Public      bool   `yaml:"public"`
}

var importCmd = &cobra.Command{
	Use:   "import <namespace> <file.yaml>",
	Short: "Upsert every key from a YAML map",
	Long: `Upsert every key from a YAML map.

Each top-level key is a config key. Its value is either the config value
itself or a mapping with "value" plus optional "description", "secret" and
"public" fields:

  db.host: db.internal
  db.port: 5432
  db.password:
    value: hunter2
    secret: true`,
	GroupID: "configs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")
		items, err := parseImport(data, note)
		if err != nil {
			return err
		}

		total := &configsvc.BatchResult{}
		for start := 0; start < len(items); start += maxImportBatch {
			end := min(start+maxImportBatch, len(items))
			res, err := confClient.BatchUpsert(cmd.Context(), args[0], items[start:end])
			if err != nil {
				return err
			}
			total.Results = append(total.Results, res.Results...)
			total.Successful += res.Successful
			total.Failed += res.Failed
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), total); err != nil {
				return err
			}
		} else {
			printBatchResult(cmd.OutOrStdout(), total)
		}
		if total.Failed > 0 {
			return fmt.Errorf("%d of %d keys failed", total.Failed, len(items))
		}
		return nil
	},
}

// parseImport converts a YAML document into upsert items sorted by key.
func parseImport(data []byte, note string) ([]configsvc.UpsertItem, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]configsvc.UpsertItem, 0, len(keys))
	for _, key := range keys {
		node := doc[key]
		entry := importEntry{}
		if isLongForm(&node) {
			if err := node.Decode(&entry); err != nil {
				return nil, fmt.Errorf("key %s: %w", key, err)
			}
		} else if err := node.Decode(&entry.Value); err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}

		value, err := toValue(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		item := configsvc.UpsertItem{Key: key, Value: value, ChangeNote: note}
		if entry.Description != "" {
			item.Description = &entry.Description
		}
		if entry.Secret {
			item.IsEncrypted = &entry.Secret
		}
		if entry.Public {
			item.IsPublic = &entry.Public
		}
		items = append(items, item)
	}
	return items, nil
}

// isLongForm reports whether node is a mapping with a "value" field.
func isLongForm(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "value" {
			return true
		}
	}
	return false
}

// toValue converts a decoded YAML value to a config value. YAML maps decode
// with string keys, so they round-trip through JSON unchanged.
func toValue(v any) (model.Value, error) {
	switch t := v.(type) {
	case nil:
		return model.Value{}, fmt.Errorf("value is required")
	case string:
		return model.StringValue(t), nil
	case bool:
		return model.BoolValue(t), nil
	case int:
		return model.NumberValue(float64(t)), nil
	case float64:
		return model.NumberValue(t), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return model.Value{}, err
	}
	return model.ParseValue(raw)
}

func init() {
	importCmd.Flags().String("note", "imported", "change note recorded in history")
}
