package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/ui"
)

const (
	timeLayout  = "2006-01-02 15:04:05"
	maskedValue = "********"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

// displayValue renders a value for tables, masking secrets unless reveal is set.
func displayValue(v model.Value, encrypted, reveal bool) string {
	if encrypted && !reveal {
		return ui.RenderMuted(maskedValue)
	}
	if s, ok := v.Str(); ok {
		return s
	}
	return v.String()
}

func printItem(w io.Writer, item *model.ConfigItem, reveal bool) {
	fmt.Fprintf(w, "Namespace:   %s\n", item.Namespace)
	fmt.Fprintf(w, "Key:         %s\n", ui.RenderAccent(item.Key))
	fmt.Fprintf(w, "Value:       %s\n", displayValue(item.Value, item.IsEncrypted, reveal))
	fmt.Fprintf(w, "Type:        %s\n", item.ValueType)
	fmt.Fprintf(w, "Version:     %d\n", item.Version)
	fmt.Fprintf(w, "Hash:        %s\n", item.ContentHash)
	fmt.Fprintf(w, "Encrypted:   %s\n", ui.RenderEnabled(item.IsEncrypted))
	fmt.Fprintf(w, "Public:      %s\n", ui.RenderEnabled(item.IsPublic))
	fmt.Fprintf(w, "Enabled:     %s\n", ui.RenderEnabled(item.Enabled))
	if item.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", item.Description)
	}
	if len(item.Schema) > 0 {
		fmt.Fprintf(w, "Schema:      %s\n", item.Schema)
	}
	if item.UpdatedBy != "" {
		fmt.Fprintf(w, "Updated By:  %s\n", item.UpdatedBy)
	}
	fmt.Fprintf(w, "Updated At:  %s\n", formatTime(item.UpdatedAt))
}

func printItemTable(w io.Writer, items []*model.ConfigItem, total int, reveal bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVERSION\tTYPE\tFLAGS\tVALUE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			it.Key,
			it.Version,
			it.ValueType,
			itemFlags(it),
			ui.Truncate(displayValue(it.Value, it.IsEncrypted, reveal), 60),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d items (%d total)\n", len(items), total)
}

// itemFlags abbreviates item attributes: e(ncrypted), p(ublic), d(isabled).
func itemFlags(it *model.ConfigItem) string {
	var b strings.Builder
	if it.IsEncrypted {
		b.WriteByte('e')
	}
	if it.IsPublic {
		b.WriteByte('p')
	}
	if !it.Enabled {
		b.WriteByte('d')
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

func printMetaTable(w io.Writer, metas []model.ItemMeta) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVERSION\tHASH\tENCRYPTED\tUPDATED")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%v\t%s\n", m.Key, m.Version, shortHash(m.ContentHash), m.IsEncrypted, formatTime(m.UpdatedAt))
	}
	tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func printHistoryTable(w io.Writer, entries []*model.HistoryEntry, total int, reveal bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCHANGE\tBY\tAT\tNOTE\tVALUE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Version,
			ui.RenderChange(string(e.ChangeType)),
			e.ChangedBy,
			formatTime(e.CreatedAt),
			e.ChangeNote,
			ui.Truncate(displayValue(e.Value, e.IsEncrypted, reveal), 40),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d of %d versions\n", len(entries), total)
}

func printNamespace(w io.Writer, ns *model.Namespace) {
	fmt.Fprintf(w, "Name:        %s\n", ui.RenderAccent(ns.Name))
	fmt.Fprintf(w, "ID:          %s\n", ns.ID)
	fmt.Fprintf(w, "Display:     %s\n", ns.DisplayName)
	if ns.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", ns.Description)
	}
	fmt.Fprintf(w, "Enabled:     %s\n", ui.RenderEnabled(ns.Enabled))
	fmt.Fprintf(w, "Created At:  %s\n", formatTime(ns.CreatedAt))
	fmt.Fprintf(w, "Updated At:  %s\n", formatTime(ns.UpdatedAt))
}

func printNamespaceTable(w io.Writer, list []*model.Namespace) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY\tENABLED\tUPDATED")
	for _, ns := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ns.Name, ns.DisplayName, ui.RenderEnabled(ns.Enabled), formatTime(ns.UpdatedAt))
	}
	tw.Flush()
}

func printBatchResult(w io.Writer, res *configsvc.BatchResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tRESULT\tVERSION\tERROR")
	for _, r := range res.Results {
		result := ui.RenderError("failed")
		switch {
		case r.Success && r.Created:
			result = ui.RenderOK("created")
		case r.Success:
			result = ui.RenderOK("updated")
		}
		version := ""
		if r.Version > 0 {
			version = fmt.Sprint(r.Version)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Key, result, version, r.Error)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d succeeded, %d failed\n", res.Successful, res.Failed)
}
