package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"studioflow/internal/app"
	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	"studioflow/internal/repo"
	"studioflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Studioflow CLI",
	Long: `Studioflow runs interior design projects through a fixed stage pipeline
with approval rules deciding what needs sign-off before work moves on.
Core concepts:
- Workspace: your .studioflow directory holding only the database; configs are stored in the DB and imported explicitly.
- Project: one client engagement moving Sales -> Design -> Technical Design -> Procurement -> Production -> Execution -> Post Installation.
- Tasks: stage-scoped work items; one level of subtasks, no deeper.
- Documents and files: deliverables tracked per stage; some block stage completion until approved or received.
- Approval rules: match criteria (stage, priority, category, title, tags) plus an approver chain; auto-apply opens requests the moment a matching entity appears.
- Approval requests: pending -> approved/rejected/expired, with delegation and multi-level chains; rejection is final.
- Stage gate: a stage completes only when its tasks are done, required files received, required documents approved, and required approvals granted.
- Status configs: each entity type's status vocabulary is editable, including which transitions are allowed.
- Event log: diary of changes, view with 'sf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STUDIOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides workspace default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(fileCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(statusConfigCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rbacCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectProgressCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, client, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project with its stage pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), engine.ProjectCreateOptions{
				ID:          id,
				Name:        name,
				ClientName:  client,
				Description: desc,
				ActorID:     viper.GetString("actor-id"),
			})
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Client", "Status"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.ClientName, p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, client, desc, status string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.ProjectUpdateOptions{
					Status:  status,
					Force:   viper.GetBool("force"),
					ActorID: viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("client") {
					opts.ClientName = &client
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				p, err := e.UpdateProject(ctx, e.Config.Project.ID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "project status")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteProject(ctx, e.Config.Project.ID)
			})
		},
	}
	return cmd
}

func projectProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Per-stage task completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.StageProgress(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Tasks", "Complete", "%"})
				for _, sp := range items {
					tw.AppendRow(table.Row{sp.Stage, sp.TasksTotal, sp.TasksComplete, sp.PercentComplete})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "STUDIOFLOW_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set STUDIOFLOW_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage project config"}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(projectConfigInitCmd())
	cfg.AddCommand(projectConfigValidateCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := cfg.Project.ID
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default studioflow.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "my-project", "project id for the template")
	return cmd
}

func projectConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

// --- stage ---

func stageCmd() *cobra.Command {
	stage := &cobra.Command{
		Use:   "stage",
		Short: "Manage workflow stages",
		Long:  "Stages run in a fixed order. Completing one requires passing its gate: tasks done, required files received, required documents approved, and required approvals granted. The next stage activates automatically.",
	}
	stage.AddCommand(stageListCmd())
	stage.AddCommand(stageGateCmd())
	stage.AddCommand(stageCompleteCmd())
	stage.AddCommand(stageStatusCmd())
	return stage
}

func stageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStages(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Stage", "Status", "Started", "Completed"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Position, s.Name, s.Status, deref(s.StartedAt), deref(s.CompletedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func stageGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate <stage>",
		Short: "Check completion requirements for a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.StageGate(ctx, e.Config.Project.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Eligible {
					fmt.Printf("Stage %q is eligible for completion\n", res.Stage)
					return nil
				}
				fmt.Printf("Stage %q is not eligible:\n", res.Stage)
				for _, m := range res.Missing {
					fmt.Printf("  - %s\n", m)
				}
				return nil
			})
		},
	}
	return cmd
}

func stageCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <stage>",
		Short: "Complete a stage and activate the next",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("stage name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CompleteStage(ctx, e.Config.Project.ID, args[0], viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func stageStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <stage>",
		Short: "Set stage status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetStageStatus(ctx, e.Config.Project.ID, args[0], status, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks live in a stage and carry a configurable status vocabulary. Subtasks nest one level and inherit the parent's stage. Matching auto-apply rules open approval requests on creation.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskTreeCmd())
	task.AddCommand(taskTransitionsCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Tags = tags
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id (makes this a subtask)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "team member id")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag (repeatable)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilter
	var subtasks bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				if f.ParentID == "" && !subtasks {
					f.TopLevel = true
				}
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Status", "Priority", "Assignee"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Stage, t.Status, t.Priority, deref(t.AssigneeID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent task id")
	cmd.Flags().BoolVar(&subtasks, "subtasks", false, "include subtasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, stage, status, priority, assignee, due string
	var tags []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				Force:   viper.GetBool("force"),
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("stage") {
				opts.Stage = &stage
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("assignee") {
				opts.AssigneeID = &assignee
			}
			if cmd.Flags().Changed("tag") {
				opts.Tags = &tags
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &due
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "team member id (empty clears)")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "replace tags (repeatable)")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339, empty clears)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskTreeCmd() *cobra.Command {
	var stage, status string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilter{ProjectID: e.Config.Project.ID, Stage: stage, Status: status})
				if err != nil {
					return err
				}
				nodes := map[string][]domain.Task{}
				var roots []domain.Task
				for _, t := range tasks {
					if t.ParentID != nil {
						nodes[*t.ParentID] = append(nodes[*t.ParentID], t)
					} else {
						roots = append(roots, t)
					}
				}
				if viper.GetBool("json") {
					type Node struct {
						Task     domain.Task `json:"task"`
						Children []Node      `json:"children,omitempty"`
					}
					var build func(t domain.Task) Node
					build = func(t domain.Task) Node {
						var children []Node
						for _, c := range nodes[t.ID] {
							children = append(children, build(c))
						}
						return Node{Task: t, Children: children}
					}
					var out []Node
					for _, r := range roots {
						out = append(out, build(r))
					}
					return printJSON(out)
				}
				for i, r := range roots {
					printTaskTree(r, nodes, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func taskTransitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transitions <id>",
		Short: "Show statuses the task can move to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				kind := "task"
				if t.ParentID != nil {
					kind = "subtask"
				}
				targets, err := e.AllowedTargets(ctx, kind, t.Status)
				if err != nil {
					return err
				}
				return printJSONOrTable(targets)
			})
		},
	}
	return cmd
}

// --- documents ---

func docCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Manage documents",
		Long:  "Documents belong to a stage and move draft -> pending-approval -> approved/rejected. Documents marked required-for-progression block the stage gate until approved.",
	}
	doc.AddCommand(docCreateCmd())
	doc.AddCommand(docListCmd())
	doc.AddCommand(docUpdateCmd())
	doc.AddCommand(docDeleteCmd())
	return doc
}

func docCreateCmd() *cobra.Command {
	var opts engine.DocumentCreateOptions
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create document",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Tags = tags
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				d, err := e.CreateDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "document id (optional)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (contract, drawing, specification, invoice, presentation, report, other)")
	cmd.Flags().BoolVar(&opts.RequiredForProgression, "required", false, "blocks stage completion until approved")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func docListCmd() *cobra.Command {
	var stage, status, category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				docs, err := e.Repo.ListDocuments(ctx, e.Config.Project.ID, stage, category)
				if err != nil {
					return err
				}
				if status != "" {
					filtered := docs[:0]
					for _, d := range docs {
						if d.Status == status {
							filtered = append(filtered, d)
						}
					}
					docs = filtered
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Category", "Status", "Required"})
				for _, d := range docs {
					tw.AppendRow(table.Row{d.ID, d.Title, d.Stage, d.Category, d.Status, d.RequiredForProgression})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	return cmd
}

func docUpdateCmd() *cobra.Command {
	var title, category, status string
	var required bool
	var tags []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.DocumentUpdateOptions{
				Force:   viper.GetBool("force"),
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("category") {
				opts.Category = &category
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("required") {
				opts.RequiredForProgression = &required
			}
			if cmd.Flags().Changed("tag") {
				opts.Tags = &tags
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UpdateDocument(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().BoolVar(&required, "required", false, "blocks stage completion until approved")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "replace tags (repeatable)")
	return cmd
}

func docDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteDocument(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// --- files ---

func fileCmd() *cobra.Command {
	file := &cobra.Command{
		Use:   "file",
		Short: "Track expected stage files",
		Long:  "Stage files are expected deliverables (site survey, signed quote, mood board). Required files must be received before their stage can complete.",
	}
	file.AddCommand(fileAddCmd())
	file.AddCommand(fileListCmd())
	file.AddCommand(fileReceivedCmd())
	file.AddCommand(fileStatusCmd())
	return file
}

func fileAddCmd() *cobra.Command {
	var opts engine.StageFileCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add expected file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				f, err := e.CreateStageFile(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "file id (optional)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&opts.Name, "name", "", "file name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().BoolVar(&opts.Required, "required", false, "blocks stage completion until received")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func fileListCmd() *cobra.Command {
	var stage, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List expected files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				files, err := e.Repo.ListStageFiles(ctx, e.Config.Project.ID, stage)
				if err != nil {
					return err
				}
				if status != "" {
					filtered := files[:0]
					for _, f := range files {
						if f.Status == status {
							filtered = append(filtered, f)
						}
					}
					files = filtered
				}
				if viper.GetBool("json") {
					return printJSON(files)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Stage", "Status", "Required", "Received"})
				for _, f := range files {
					tw.AppendRow(table.Row{f.ID, f.Name, f.Stage, f.Status, f.Required, deref(f.ReceivedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func fileReceivedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "received <id>",
		Short: "Mark file received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.MarkFileReceived(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	return cmd
}

func fileStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Set file status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.SetFileStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

// --- issues ---

func issueCmd() *cobra.Command {
	issue := &cobra.Command{Use: "issue", Short: "Track issues"}
	issue.AddCommand(issueCreateCmd())
	issue.AddCommand(issueListCmd())
	issue.AddCommand(issueUpdateCmd())
	return issue
}

func issueCreateCmd() *cobra.Command {
	var opts engine.IssueCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				i, err := e.CreateIssue(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "issue id (optional)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	var stage, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issues, err := e.Repo.ListIssues(ctx, e.Config.Project.ID, stage, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Status", "Priority"})
				for _, i := range issues {
					tw.AppendRow(table.Row{i.ID, i.Title, i.Stage, i.Status, i.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func issueUpdateCmd() *cobra.Command {
	var title, desc, status, priority string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.IssueUpdateOptions{
				Force:   viper.GetBool("force"),
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.UpdateIssue(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	return cmd
}

// --- team ---

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage team members"}
	team.AddCommand(teamAddCmd())
	team.AddCommand(teamListCmd())
	team.AddCommand(teamRemoveCmd())
	return team
}

func teamAddCmd() *cobra.Command {
	var opts engine.TeamMemberOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add team member",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddTeamMember(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "member id (optional)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role (e.g. project manager, senior designer)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func teamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				members, err := e.Repo.ListTeamMembers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Email"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.ID, m.Name, m.Role, m.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func teamRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveTeamMember(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// --- rules ---

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage approval rules",
		Long:  "Rules pair match criteria with an approver chain. Criteria dimensions AND together; values within one dimension OR. Auto-apply rules open an approval request the moment a matching task or document appears.",
	}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleGetCmd())
	rule.AddCommand(ruleUpdateCmd())
	rule.AddCommand(ruleDeleteCmd())
	rule.AddCommand(rulePreviewCmd())
	return rule
}

func ruleCreateCmd() *cobra.Command {
	var opts engine.RuleCreateOptions
	var criteriaJSON, configsJSON string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create approval rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := json.Unmarshal([]byte(criteriaJSON), &opts.Criteria); err != nil {
				return fmt.Errorf("invalid --criteria-json: %w", err)
			}
			if err := json.Unmarshal([]byte(configsJSON), &opts.Configs); err != nil {
				return fmt.Errorf("invalid --configs-json: %w", err)
			}
			opts.ActorID = viper.GetString("actor-id")
			if disabled {
				enabled := false
				opts.Enabled = &enabled
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.Scope == "project" && opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				r, err := e.CreateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "rule id (optional)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Scope, "scope", "project", "scope (global, project)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id for project scope")
	cmd.Flags().StringVar(&opts.EntityType, "entity-type", "", "entity type (task, document, stage)")
	cmd.Flags().StringVar(&criteriaJSON, "criteria-json", "{}", `match criteria, e.g. {"stages":["Design"],"priorities":["high","urgent"]}`)
	cmd.Flags().StringVar(&configsJSON, "configs-json", "[]", `approver chain, e.g. [{"approver_type":"project-manager","required":true}]`)
	cmd.Flags().BoolVar(&opts.AutoApply, "auto-apply", false, "open requests automatically on match")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("entity-type")
	return cmd
}

func ruleListCmd() *cobra.Command {
	var entityType string
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRules(ctx, repo.RuleFilter{
					ProjectID:   e.Config.Project.ID,
					EntityType:  entityType,
					EnabledOnly: enabledOnly,
					GlobalToo:   true,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Scope", "Entity", "Enabled", "Auto", "Levels"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Name, r.Scope, r.EntityType, r.Enabled, r.AutoApply, len(r.Configs)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "enabled rules only")
	return cmd
}

func ruleGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var name, desc, entityType, criteriaJSON, configsJSON string
	var enabled, autoApply bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update rule (in-flight requests keep their snapshot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RuleUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("entity-type") {
				opts.EntityType = &entityType
			}
			if cmd.Flags().Changed("criteria-json") {
				var c domain.MatchCriteria
				if err := json.Unmarshal([]byte(criteriaJSON), &c); err != nil {
					return fmt.Errorf("invalid --criteria-json: %w", err)
				}
				opts.Criteria = &c
			}
			if cmd.Flags().Changed("configs-json") {
				var cs []domain.ApprovalConfig
				if err := json.Unmarshal([]byte(configsJSON), &cs); err != nil {
					return fmt.Errorf("invalid --configs-json: %w", err)
				}
				opts.Configs = &cs
			}
			if cmd.Flags().Changed("enabled") {
				opts.Enabled = &enabled
			}
			if cmd.Flags().Changed("auto-apply") {
				opts.AutoApply = &autoApply
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.UpdateRule(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type")
	cmd.Flags().StringVar(&criteriaJSON, "criteria-json", "", "match criteria JSON")
	cmd.Flags().StringVar(&configsJSON, "configs-json", "", "approver chain JSON")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable or disable")
	cmd.Flags().BoolVar(&autoApply, "auto-apply", false, "open requests automatically on match")
	return cmd
}

func ruleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete rule (open requests survive with their snapshot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRule(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func rulePreviewCmd() *cobra.Command {
	var entityType, criteriaJSON string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Count existing entities a criteria would match",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c domain.MatchCriteria
			if err := json.Unmarshal([]byte(criteriaJSON), &c); err != nil {
				return fmt.Errorf("invalid --criteria-json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.CountRuleMatches(ctx, e.Config.Project.ID, entityType, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"matches": n})
				}
				fmt.Printf("%d existing %ss match\n", n, entityType)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type (task, document, stage)")
	cmd.Flags().StringVar(&criteriaJSON, "criteria-json", "{}", "match criteria JSON")
	_ = cmd.MarkFlagRequired("entity-type")
	return cmd
}

// --- approvals ---

func approvalCmd() *cobra.Command {
	appr := &cobra.Command{
		Use:   "approval",
		Short: "Manage approval requests",
		Long:  "Requests move through their approver chain level by level. Approving the last level closes the request; any rejection is final. Delegation hands the current level to another member when the config allows it.",
	}
	appr.AddCommand(approvalRequestCmd())
	appr.AddCommand(approvalListCmd())
	appr.AddCommand(approvalGetCmd())
	appr.AddCommand(approvalApproveCmd())
	appr.AddCommand(approvalRejectCmd())
	appr.AddCommand(approvalDelegateCmd())
	appr.AddCommand(approvalRemindCmd())
	appr.AddCommand(approvalHistoryCmd())
	return appr
}

func approvalRequestCmd() *cobra.Command {
	var opts engine.ApprovalRequestOptions
	var configsJSON string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Open an approval request manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := json.Unmarshal([]byte(configsJSON), &opts.Configs); err != nil {
				return fmt.Errorf("invalid --configs-json: %w", err)
			}
			opts.Source = "manual"
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				a, err := e.CreateApprovalRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.EntityType, "entity-type", "", "entity type (task, document, stage)")
	cmd.Flags().StringVar(&opts.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&opts.EntityName, "entity-name", "", "entity name for display")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&configsJSON, "configs-json", "[]", "approver chain JSON")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func approvalListCmd() *cobra.Command {
	var f repo.ApprovalFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.ListApprovalRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Entity", "Name", "Status", "Level", "Assigned", "Expires"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.EntityType, a.EntityName, a.Status, a.CurrentLevel, a.AssignedTo, deref(a.ExpiresAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	return cmd
}

func approvalGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetApprovalRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func approvalApproveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve current level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Approve(ctx, args[0], viper.GetString("actor-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment")
	return cmd
}

func approvalRejectCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject request (final)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Reject(ctx, args[0], viper.GetString("actor-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment")
	return cmd
}

func approvalDelegateCmd() *cobra.Command {
	var to, comment string
	cmd := &cobra.Command{
		Use:   "delegate <id>",
		Short: "Delegate current level to another member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Delegate(ctx, args[0], viper.GetString("actor-id"), to, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "delegate member id")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func approvalRemindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind <id>",
		Short: "Record a reminder for the assigned approver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Remind(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func approvalHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Full audit trail of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ApprovalHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	return cmd
}

// --- status configs ---

func statusConfigCmd() *cobra.Command {
	status := &cobra.Command{
		Use:   "status",
		Short: "Manage status vocabularies",
		Long:  "Every entity type carries an editable status vocabulary. A status lists which source statuses may transition into it; an empty list means any. Statuses in use cannot be deleted, only deactivated.",
	}
	status.AddCommand(statusListCmd())
	status.AddCommand(statusCreateCmd())
	status.AddCommand(statusUpdateCmd())
	status.AddCommand(statusDeleteCmd())
	status.AddCommand(statusReorderCmd())
	status.AddCommand(statusResetCmd())
	status.AddCommand(statusTransitionsCmd())
	return status
}

func statusListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list <entity-type>",
		Short: "List statuses for an entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					items []domain.StatusConfig
					err   error
				)
				if all {
					items, err = e.ListStatuses(ctx, args[0])
				} else {
					items, err = e.ActiveStatuses(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Value", "Label", "Default", "Active", "From"})
				for _, s := range items {
					from := "any"
					if len(s.AllowedTransitions) > 0 {
						from = strings.Join(s.AllowedTransitions, ", ")
					}
					tw.AppendRow(table.Row{s.Position, s.Value, s.Label, s.IsDefault, s.IsActive, from})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive statuses")
	return cmd
}

func statusCreateCmd() *cobra.Command {
	var s domain.StatusConfig
	var transitions []string
	cmd := &cobra.Command{
		Use:   "create <entity-type>",
		Short: "Create status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.EntityType = args[0]
			s.AllowedTransitions = transitions
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateStatus(ctx, s, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&s.Value, "value", "", "status value (kebab-case)")
	cmd.Flags().StringVar(&s.Label, "label", "", "display label")
	cmd.Flags().StringVar(&s.Color, "color", "", "hex color")
	cmd.Flags().StringVar(&s.Icon, "icon", "", "icon name")
	cmd.Flags().BoolVar(&s.IsDefault, "default", false, "make this the default status")
	cmd.Flags().StringArrayVar(&transitions, "from", []string{}, "source status allowed to transition here (repeatable; none means any)")
	_ = cmd.MarkFlagRequired("value")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func statusUpdateCmd() *cobra.Command {
	var label, color, icon string
	var isDefault, active bool
	var transitions []string
	cmd := &cobra.Command{
		Use:   "update <entity-type> <value>",
		Short: "Update status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.StatusUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("label") {
				opts.Label = &label
			}
			if cmd.Flags().Changed("color") {
				opts.Color = &color
			}
			if cmd.Flags().Changed("icon") {
				opts.Icon = &icon
			}
			if cmd.Flags().Changed("default") {
				opts.IsDefault = &isDefault
			}
			if cmd.Flags().Changed("active") {
				opts.IsActive = &active
			}
			if cmd.Flags().Changed("from") {
				opts.AllowedTransitions = &transitions
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.UpdateStatus(ctx, args[0], args[1], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "display label")
	cmd.Flags().StringVar(&color, "color", "", "hex color")
	cmd.Flags().StringVar(&icon, "icon", "", "icon name")
	cmd.Flags().BoolVar(&isDefault, "default", false, "make this the default status")
	cmd.Flags().BoolVar(&active, "active", true, "activate or deactivate")
	cmd.Flags().StringArrayVar(&transitions, "from", []string{}, "replace allowed source statuses (repeatable)")
	return cmd
}

func statusDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <entity-type> <value>",
		Short: "Delete status (blocked while in use)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteStatus(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func statusReorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder <entity-type> <value>...",
		Short: "Reorder statuses (every value exactly once)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ReorderStatuses(ctx, args[0], args[1:], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func statusResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <entity-type>",
		Short: "Reset statuses to defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ResetStatuses(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func statusTransitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transitions <entity-type> <from>",
		Short: "Show statuses reachable from a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.AllowedTargets(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: status changes, approvals, rule applications, and more.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logHistoryCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func logHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <entity-kind> <entity-id>",
		Short: "Full history of one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.EntityHistory(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	return cmd
}

// --- rbac ---

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "RBAC management"}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacAPIKeyCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, e.Config.Project.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, e.Config.Project.ID, viper.GetString("actor-id"), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Project.ID, viper.GetString("actor-id"), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacAPIKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(rbacAPIKeyCreateCmd())
	key.AddCommand(rbacAPIKeyListCmd())
	key.AddCommand(rbacAPIKeyDeleteCmd())
	return key
}

func rbacAPIKeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key (plaintext shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target := actor
				if target == "" {
					target = viper.GetString("actor-id")
				}
				key, plaintext, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), target, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plaintext})
				}
				fmt.Printf("Created key %s for %s\nAPI key (save it now, it is not stored): %s\n", key.ID, key.ActorID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func rbacAPIKeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func rbacAPIKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeAPIKey(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			zap.ReplaceGlobals(logger)

			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, nil)
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), e, viper.GetString("project"), viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			e.Config = cfg
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("STUDIOFLOW_JWT_SECRET"),
				Logger:    logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("STUDIOFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving api", zap.String("addr", addr), zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	_, cfg, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"), viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func printTaskTree(t domain.Task, children map[string][]domain.Task, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s]\n", prefix, connector, t.Title, t.Status)
	for i, c := range children[t.ID] {
		printTaskTree(c, children, newPrefix, i == len(children[t.ID])-1)
	}
}
