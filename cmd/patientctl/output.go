package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format}
}

// print writes v as indented JSON in json mode, or the given table otherwise.
func (p *printer) print(v any, headers []string, rows [][]string) error {
	if p.format == outputJSON {
		return p.json(v)
	}
	return p.table(headers, rows)
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, "No results.")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// message prints a confirmation line in table mode and {"status": msg} in
// json mode.
func (p *printer) message(msg string) error {
	if p.format == outputJSON {
		return p.json(map[string]string{"status": msg})
	}
	_, err := fmt.Fprintln(p.w, msg)
	return err
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
