package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"dupefind/internal/dupe"
	"dupefind/internal/hashfile"

	"github.com/disiqueira/gotree/v3"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const timeLayout = "2006-01-02 15:04:05"

// treeOut keeps the tree off stdout when the dupefile is written there.
func treeOut(output string) io.Writer {
	if output == hashfile.Stdio {
		return os.Stderr
	}
	return os.Stdout
}

// renderGroups draws one node per duplicate group with its members below.
func renderGroups(groups []dupe.DuplicateGroup) string {
	root := gotree.New(fmt.Sprintf("%d duplicate group(s)", len(groups)))
	for _, g := range groups {
		size := int64(0)
		if len(g.Records) > 0 {
			size = g.Records[0].Size
		}
		node := root.Add(fmt.Sprintf("%s %s x%d", g.Key.MD5[:12], humanize.IBytes(uint64(size)), len(g.Records)))
		for _, rec := range g.Records {
			node.Add(rec.AbsolutePath)
		}
	}
	return root.Print()
}

func printReplication(w io.Writer, s *dupe.ReplicationSummary, dryRun bool) {
	verb := "Copied"
	if dryRun {
		verb = "Would copy"
	}
	fmt.Fprintf(w, "%s %d file(s), %s from %d group(s); %d skipped",
		verb, s.Copied, humanize.IBytes(uint64(s.Bytes)), s.Groups, s.Skipped)
	if s.Collisions > 0 {
		fmt.Fprintf(w, ", %s", color.YellowString("%d renamed on collision", s.Collisions))
	}
	if n := len(s.Failures); n > 0 {
		fmt.Fprintf(w, ", %s", color.RedString("%d failed", n))
	}
	fmt.Fprintln(w)
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s %s: %v\n", color.RedString("failed"), f.Source, f.Err)
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Row = text.Colors{text.Reset}
	return t
}

func printOperations(w io.Writer, ops []*dupe.Operation) {
	t := newTable(w)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	t.AppendHeader(table.Row{
		text.Bold.Sprint("#"), text.Bold.Sprint("Run"), text.Bold.Sprint("Operation"),
		text.Bold.Sprint("Started"), text.Bold.Sprint("Status"), text.Bold.Sprint("Duration"),
		text.Bold.Sprint("Summary"),
	})
	for _, op := range ops {
		duration := ""
		if !op.FinishedAt.IsZero() {
			duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			op.ID,
			op.RunID,
			op.Operation,
			op.StartedAt.Local().Format(timeLayout),
			statusColor(op.Status),
			duration,
			op.Summary,
		})
	}
	t.Render()
}

func statusColor(status string) string {
	switch status {
	case dupe.StatusSuccess:
		return color.GreenString(status)
	case dupe.StatusError:
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

func printCopies(w io.Writer, copies []*dupe.CopyRecord) {
	if len(copies) == 0 {
		fmt.Fprintln(w, "No copies recorded.")
		return
	}
	t := newTable(w)
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	t.AppendHeader(table.Row{
		text.Bold.Sprint("Source"), text.Bold.Sprint("Destination"), text.Bold.Sprint("Size"),
		text.Bold.Sprint("Note"),
	})
	for _, c := range copies {
		var note string
		switch {
		case c.Error != "":
			note = color.RedString(c.Error)
		case c.DryRun:
			note = "dry run"
		case c.Collision:
			note = color.YellowString("renamed")
		}
		t.AppendRow(table.Row{c.Source, c.Destination, humanize.IBytes(uint64(c.Bytes)), note})
	}
	t.Render()
}
