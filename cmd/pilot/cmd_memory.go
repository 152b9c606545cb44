package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"localpilot/internal/memory"
)

// =============================================================================
// MEMORY COMMANDS
// =============================================================================

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage long-term memory",
	}
	cmd.AddCommand(memoryListCmd(), memoryAddCmd(), memorySearchCmd(), memoryForgetCmd())
	return cmd
}

func withStoreCtx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Second)
}

func printFacts(facts []memory.Fact) {
	if len(facts) == 0 {
		fmt.Println("no facts")
		return
	}
	for _, f := range facts {
		marker := ""
		if f.Supersedes > 0 {
			marker = fmt.Sprintf(" (supersedes %d)", f.Supersedes)
		}
		fmt.Printf("[%d] %s  — %s, confidence %.1f%s\n", f.ID, f.Content, f.Source, f.Confidence, marker)
	}
}

func memoryListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := withStoreCtx(cmd)
			defer cancel()

			facts, err := a.store.ListFacts(ctx, limit)
			if err != nil {
				return err
			}
			printFacts(facts)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum facts to show")
	return cmd
}

func memoryAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <fact>",
		Short: "Store a fact directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := withStoreCtx(cmd)
			defer cancel()

			id, err := a.store.PutFact(ctx, memory.Fact{
				Content:    strings.Join(args, " "),
				Source:     "stated",
				Confidence: 1.0,
			})
			if err != nil {
				return err
			}
			fmt.Printf("stored as fact %d\n", id)
			return nil
		},
	}
}

func memorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search facts by full-text match",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := withStoreCtx(cmd)
			defer cancel()

			facts, err := a.store.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			printFacts(facts)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum facts to show")
	return cmd
}

func memoryForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>",
		Short: "Delete a fact by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad fact id %q", args[0])
			}

			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := withStoreCtx(cmd)
			defer cancel()

			if err := a.store.DeleteFact(ctx, id); err != nil {
				return err
			}
			fmt.Printf("forgot fact %d\n", id)
			return nil
		},
	}
}

// =============================================================================
// AUDIT COMMAND
// =============================================================================

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := withStoreCtx(cmd)
			defer cancel()

			rows, err := a.store.AuditTail(ctx, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no audit entries")
				return nil
			}
			for _, r := range rows {
				detail := r.Detail
				if detail != "" {
					detail = "  " + detail
				}
				fmt.Printf("%s  %s  step %d  %s → %s%s\n",
					r.CreatedAt.Format(time.RFC3339), shortID(r.ConversationID), r.Step, r.Action, r.Outcome, detail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
