package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"OpenEA-Agent/internal/app"
	"OpenEA-Agent/internal/evals"
	"OpenEA-Agent/internal/knowledge"
	"OpenEA-Agent/internal/storage"
)

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>",
		Short: "Plan and execute a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Agent.Execute(cmd.Context(), opts.user, text)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				renderResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func newAskCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the policy documents with citations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return opts.withApp(cmd, func(a *app.App) error {
				ans := knowledge.Answer{Text: knowledge.NoDocumentsMessage, Citations: []string{}}
				if a.Knowledge != nil {
					ans = a.Knowledge.Answer(question)
				}
				if opts.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), ans)
				}
				renderAnswer(cmd.OutOrStdout(), ans)
				return nil
			})
		},
	}
}

// newApprovalsCommand 提供审批列表、单条审批、全部审批与清空待审批。
func newApprovalsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review and approve pending actions",
	}

	var approved bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending (or approved) requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				var (
					rows []storage.Approval
					err  error
				)
				title := "Pending approvals"
				if approved {
					title = "Approved requests"
					rows, err = a.Gate.ListApproved(cmd.Context(), opts.user)
				} else {
					rows, err = a.Gate.ListPending(cmd.Context(), opts.user)
				}
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					if rows == nil {
						rows = []storage.Approval{}
					}
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				renderApprovals(cmd.OutOrStdout(), title, rows)
				return nil
			})
		},
	}
	list.Flags().BoolVar(&approved, "approved", false, "Show approved requests instead of pending ones")

	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve one request and run its action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid approval id %q", args[0])
			}
			return opts.withApp(cmd, func(a *app.App) error {
				out, err := a.Gate.Execute(cmd.Context(), id)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "approved #%d (%s)\n", out.Approval.ID, out.Approval.Summary)
				if out.Error != "" {
					fmt.Fprintln(cmd.OutOrStdout(), failStyle.Render("action failed: "+out.Error))
				}
				return nil
			})
		},
	}

	approveAll := &cobra.Command{
		Use:   "approve-all",
		Short: "Approve every pending request for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				outcomes, err := a.Gate.ExecuteAll(cmd.Context(), opts.user)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"approved": len(outcomes), "outcomes": outcomes})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "approved %d request(s)\n", len(outcomes))
				return nil
			})
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete all pending requests for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				n, err := a.Gate.ClearPending(cmd.Context(), opts.user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d pending request(s)\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(list, approve, approveAll, clear)
	return cmd
}

func newNotesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Keep short notes in the user's session",
	}
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				key, err := storage.AddNote(cmd.Context(), a.Store, opts.user, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				notes, err := storage.ListNotes(cmd.Context(), a.Store, opts.user)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), notes)
				}
				heading(cmd.OutOrStdout(), "Notes")
				for _, n := range notes {
					fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", n.Note)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}

func newSessionCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the user's session memory",
	}
	var def string
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a session value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				v, err := storage.GetOr(cmd.Context(), a.Store, opts.user, args[0], def)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	get.Flags().StringVar(&def, "default", "", "Value printed when the key is missing")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete every session entry for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				if err := a.Store.Reset(cmd.Context(), opts.user); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "session reset")
				return nil
			})
		},
	}
	cmd.AddCommand(get, reset)
	return cmd
}

func newPostCommand(opts *options) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "post <text>",
		Short: "Post a safety-checked message to a channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Tools.Messaging.Post(cmd.Context(), channel, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				if res.Blocked {
					fmt.Fprintln(cmd.OutOrStdout(), failStyle.Render("blocked: "+res.Reason))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted to %s: %s\n", res.Channel, res.Text)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "#general", "Target channel")
	return cmd
}

// newEvalCommand 未指定 --scenarios 时使用配置中的场景文件。
func newEvalCommand(opts *options) *cobra.Command {
	var scenariosPath string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the scenario evals and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				path := scenariosPath
				if path == "" {
					path = a.Config.Evals.Scenarios
				}
				if path == "" {
					return fmt.Errorf("no scenarios file: pass --scenarios or set evals.scenarios")
				}
				scenarios, err := evals.LoadScenarios(path)
				if err != nil {
					return err
				}
				summary, err := evals.Run(cmd.Context(), a.Agent, a.Config.Evals.User, scenarios)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
				renderEval(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scenariosPath, "scenarios", "", "Scenario YAML file (default: evals.scenarios from config)")
	return cmd
}
