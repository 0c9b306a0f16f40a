package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/turmoilwatch/internal/classify"
)

type scoredLine struct {
	Text      string             `json:"text"`
	Trigger   bool               `json:"trigger"`
	Breakdown classify.Breakdown `json:"breakdown"`
}

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score [headline ...]",
		Short: "Explain the doom score of headlines (reads stdin when no args)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFrom(cmd)
			if err != nil {
				return err
			}
			c := classify.New(e.cfg.ClassifierConfig())

			lines := args
			if len(lines) == 0 {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					if text := strings.TrimSpace(scanner.Text()); text != "" {
						lines = append(lines, text)
					}
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, text := range lines {
				out := scoredLine{Text: text, Trigger: c.IsTrigger(text), Breakdown: c.Explain(text)}
				if err := enc.Encode(out); err != nil {
					return fmt.Errorf("encode score: %w", err)
				}
			}
			return nil
		},
	}
}
