package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"triage-intake/internal/core"
	"triage-intake/pkg"
)

var (
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	recordStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

// runChat drives the engine from a line-oriented reader.  History and the
// record live only in memory.
func runChat(ctx context.Context, in io.Reader, out io.Writer, engine *core.Engine, prompts core.Prompts) error {
	history := []core.Turn{{Role: pkg.RoleAssistant, Text: prompts.FirstMessage}}
	var rec *pkg.SymptomRecord

	fmt.Fprintln(out, assistantStyle.Render("assistant> ")+prompts.FirstMessage)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/record":
			data, err := json.MarshalIndent(recordOrEmpty(rec), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, recordStyle.Render(string(data)))
			continue
		}

		history = append(history, core.Turn{Role: pkg.RoleUser, Text: line})
		res := engine.Process(ctx, history, rec)
		history = append(history, core.Turn{Role: pkg.RoleAssistant, Text: res.Reply})
		if len(res.Extracted.Symptoms) > 0 {
			next := res.Extracted
			rec = &next
		}
		fmt.Fprintln(out, assistantStyle.Render("assistant> ")+res.Reply)
	}
}

func recordOrEmpty(rec *pkg.SymptomRecord) pkg.SymptomRecord {
	if rec == nil {
		return pkg.SymptomRecord{Symptoms: []pkg.Symptom{}}
	}
	return *rec
}
