package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proact/internal/domain"
	"proact/internal/engine"
)

func cycleCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cycle",
		Short: "Work through decision cycles",
		Long: `A cycle holds the nine stages. Start a stage once the one before it has
started, record its output, then complete it. Completed stages are locked
until revised. Branch a cycle to explore another path from any started stage.`,
	}
	c.AddCommand(cycleNewCmd())
	c.AddCommand(cycleListCmd())
	c.AddCommand(cycleShowCmd())
	c.AddCommand(cycleBranchCmd())
	c.AddCommand(cycleStartCmd())
	c.AddCommand(cycleCompleteCmd())
	c.AddCommand(cycleUpdateCmd())
	c.AddCommand(cycleReviseCmd())
	c.AddCommand(cycleGotoCmd())
	c.AddCommand(cycleFinishCmd())
	c.AddCommand(cycleArchiveCmd())
	c.AddCommand(cycleAnalyzeCmd())
	c.AddCommand(cycleCompareCmd())
	return c
}

func printCycle(c *domain.Cycle) error {
	if viper.GetBool("json") {
		return printJSON(cycleView(c))
	}
	renderCycle(os.Stdout, c)
	return nil
}

func cycleNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new cycle in the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sid, err := sessionID(ctx, e)
				if err != nil {
					return err
				}
				c, err := e.CreateCycle(ctx, sid, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printCycle(c)
			})
		},
	}
}

func cycleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the cycles of the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sid, err := sessionID(ctx, e)
				if err != nil {
					return err
				}
				cycles, err := e.ListCycles(ctx, sid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					views := make([]cycleJSON, 0, len(cycles))
					for _, c := range cycles {
						views = append(views, cycleView(c))
					}
					return printJSON(views)
				}
				renderCycles(os.Stdout, cycles)
				return nil
			})
		},
	}
}

func cycleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show a cycle and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCycle(ctx, args[0])
				if err != nil {
					return err
				}
				return printCycle(c)
			})
		},
	}
}

// componentCommand builds a "<verb> <cycle-id> <component>" command.
func componentCommand(use, short string, run func(ctx context.Context, e engine.Engine, cycleID string, t domain.ComponentType) (*domain.Cycle, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <cycle-id> <component>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseComponentType(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := run(ctx, e, args[0], t)
				if err != nil {
					return err
				}
				return printCycle(c)
			})
		},
	}
}

func cycleBranchCmd() *cobra.Command {
	return componentCommand("branch", "Branch a cycle at a stage", func(ctx context.Context, e engine.Engine, id string, t domain.ComponentType) (*domain.Cycle, error) {
		return e.BranchCycle(ctx, id, t, viper.GetString("actor-id"))
	})
}

func cycleStartCmd() *cobra.Command {
	return componentCommand("start", "Start a stage", func(ctx context.Context, e engine.Engine, id string, t domain.ComponentType) (*domain.Cycle, error) {
		return e.StartComponent(ctx, id, t, viper.GetString("actor-id"))
	})
}

func cycleReviseCmd() *cobra.Command {
	return componentCommand("revise", "Reopen a completed stage", func(ctx context.Context, e engine.Engine, id string, t domain.ComponentType) (*domain.Cycle, error) {
		return e.ReviseComponent(ctx, id, t, viper.GetString("actor-id"))
	})
}

func cycleGotoCmd() *cobra.Command {
	return componentCommand("goto", "Move the current step", func(ctx context.Context, e engine.Engine, id string, t domain.ComponentType) (*domain.Cycle, error) {
		return e.NavigateTo(ctx, id, t, viper.GetString("actor-id"))
	})
}

func cycleCompleteCmd() *cobra.Command {
	var outputPath string
	cmd := componentCommand("complete", "Complete a stage", func(ctx context.Context, e engine.Engine, id string, t domain.ComponentType) (*domain.Cycle, error) {
		raw, err := readPayload(outputPath)
		if err != nil {
			return nil, err
		}
		return e.CompleteComponent(ctx, id, t, raw, viper.GetString("actor-id"))
	})
	cmd.Long = "Completes a stage. With --output the file replaces the stored output first; without it the stored output is checked."
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output JSON file ('-' for stdin)")
	return cmd
}

func cycleUpdateCmd() *cobra.Command {
	var outputPath string
	var version uint64
	cmd := &cobra.Command{
		Use:   "update <cycle-id> <component>",
		Short: "Replace a stage output",
		Long:  "Replaces the output of a started stage. --version must match the stage's current version, which 'cycle show' prints.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseComponentType(args[1])
			if err != nil {
				return err
			}
			raw, err := readPayload(outputPath)
			if err != nil {
				return err
			}
			if raw == nil {
				return fmt.Errorf("--output is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, v, err := e.UpdateComponentOutput(ctx, args[0], t, raw, version, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"cycle": cycleView(c), "version": v})
				}
				fmt.Printf("%s %s is now at version %d\n", styleSuccess.Render("updated"), t.DisplayName(), v)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output JSON file ('-' for stdin)")
	cmd.Flags().Uint64Var(&version, "version", 0, "expected current version")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func cycleCommand(use, short string, run func(ctx context.Context, e engine.Engine, cycleID string) (*domain.Cycle, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <cycle-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := run(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printCycle(c)
			})
		},
	}
}

func cycleFinishCmd() *cobra.Command {
	return cycleCommand("finish", "Mark a cycle completed", func(ctx context.Context, e engine.Engine, id string) (*domain.Cycle, error) {
		return e.CompleteCycle(ctx, id, viper.GetString("actor-id"))
	})
}

func cycleArchiveCmd() *cobra.Command {
	return cycleCommand("archive", "Archive a cycle", func(ctx context.Context, e engine.Engine, id string) (*domain.Cycle, error) {
		return e.ArchiveCycle(ctx, id, viper.GetString("actor-id"))
	})
}

func cycleAnalyzeCmd() *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "analyze <cycle-id>",
		Short: "Pugh matrix, dominance, tradeoffs and decision quality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCycle(ctx, args[0])
				if err != nil {
					return err
				}
				var rep engine.Report
				if latest {
					rep, _, err = e.LatestAnalysis(ctx, c.ID)
				} else {
					rep, err = e.Analyze(ctx, c.ID, viper.GetString("actor-id"))
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				renderReport(os.Stdout, c, rep)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "show the last stored analysis instead of running a new one")
	return cmd
}

func cycleCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Compare the analysis of every cycle in the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sid, err := sessionID(ctx, e)
				if err != nil {
					return err
				}
				reports, err := e.AnalyzeSession(ctx, sid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				renderComparison(os.Stdout, reports)
				return nil
			})
		},
	}
}
