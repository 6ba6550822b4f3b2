package main

import (
	"context"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"portfolioshare/internal/app"
	"portfolioshare/internal/domain"
	"portfolioshare/internal/engine"
	"portfolioshare/internal/events"
	"portfolioshare/internal/render"
	"portfolioshare/internal/repo"
)

func portfolioCmd() *cobra.Command {
	p := &cobra.Command{Use: "portfolio", Short: "Manage portfolios"}
	p.AddCommand(portfolioCreateCmd())
	p.AddCommand(portfolioListCmd())
	return p
}

func portfolioCreateCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePortfolio(ctx, owner)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner display name")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func portfolioListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List portfolios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPortfolios(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.OwnerName, p.CreatedAt})
				}
				printTable(table.Row{"ID", "Owner", "Created"}, rows)
				return nil
			})
		},
	}
}

func entryCmd() *cobra.Command {
	e := &cobra.Command{Use: "entry", Short: "Manage portfolio entries"}
	e.AddCommand(entryAddCmd())
	e.AddCommand(entryListCmd())
	return e
}

func entryAddCmd() *cobra.Command {
	var opts engine.EntryOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an entry to a portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.AddEntry(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(entry)
			})
		},
	}
	cmd.Flags().StringVar(&opts.PortfolioID, "portfolio", "", "portfolio id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "entry title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.CategoryName, "category", "", "category name")
	cmd.Flags().StringSliceVar(&opts.Skills, "skill", nil, "skill demonstrated (repeatable)")
	cmd.Flags().StringVar(&opts.ReflectionNotes, "reflection", "", "reflection notes")
	cmd.Flags().IntVar(&opts.TimeSpent, "time-spent", 0, "minutes spent")
	cmd.Flags().StringVar(&opts.Status, "status", "", "entry status")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}

func entryListCmd() *cobra.Command {
	var portfolioID string
	var categories []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a portfolio's entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEntries(ctx, portfolioID, categories)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.Title, it.CategoryName, len(it.Files), it.Status})
				}
				printTable(table.Row{"ID", "Title", "Category", "Files", "Status"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&portfolioID, "portfolio", "", "portfolio id")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict to category (repeatable)")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}

func fileCmd() *cobra.Command {
	f := &cobra.Command{Use: "file", Short: "Manage evidence files"}
	f.AddCommand(fileAddCmd())
	return f
}

func fileAddCmd() *cobra.Command {
	var opts engine.FileOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Attach an evidence file to an entry",
		Long:  "With --upload the file is stored in the configured bucket and a presigned upload URL is printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, uploadURL, err := e.AddFile(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(struct {
					domain.EvidenceFile
					UploadURL string `json:"upload_url,omitempty"`
				}{f, uploadURL})
			})
		},
	}
	cmd.Flags().StringVar(&opts.EntryID, "entry", "", "entry id")
	cmd.Flags().StringVar(&opts.FileName, "name", "", "file name")
	cmd.Flags().StringVar(&opts.FileType, "type", "", "MIME type")
	cmd.Flags().Int64Var(&opts.FileSize, "size", 0, "size in bytes")
	cmd.Flags().StringVar(&opts.FileURL, "url", "", "external file URL")
	cmd.Flags().BoolVar(&opts.Upload, "upload", false, "store in the configured bucket")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

func shareCmd() *cobra.Command {
	s := &cobra.Command{Use: "share", Short: "Manage share links"}
	s.AddCommand(shareCreateCmd())
	s.AddCommand(shareRevokeCmd())
	s.AddCommand(shareListCmd())
	return s
}

func shareCreateCmd() *cobra.Command {
	var opts engine.ShareOptions
	var linkBase string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a share link",
		Long:  "The token is printed once. Only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, token, err := e.CreateShare(ctx, opts)
				if err != nil {
					return err
				}
				out := struct {
					domain.Share
					Token string `json:"token"`
					Link  string `json:"link,omitempty"`
				}{Share: s, Token: token}
				if linkBase != "" {
					out.Link = strings.TrimRight(linkBase, "/") + "/shared/" + url.PathEscape(token)
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&opts.PortfolioID, "portfolio", "", "portfolio id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "share title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "share description")
	cmd.Flags().StringSliceVar(&opts.Categories, "category", nil, "visible category (repeatable, default all)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "link lifetime (0 never expires)")
	cmd.Flags().StringVar(&linkBase, "link-base", "", "web origin used to print a full link")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}

func shareRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <share-id>",
		Short: "Revoke a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RevokeShare(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func shareListCmd() *cobra.Command {
	var portfolioID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List share links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListShares(ctx, portfolioID)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				now := time.Now()
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					state := "active"
					if engine.Expired(s, now) {
						state = "expired"
					}
					rows = append(rows, table.Row{s.ID, s.Title, strings.Join(s.Categories, ", "), state, s.CreatedAt})
				}
				printTable(table.Row{"ID", "Title", "Categories", "State", "Created"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&portfolioID, "portfolio", "", "portfolio id")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}

func submissionCmd() *cobra.Command {
	s := &cobra.Command{Use: "submission", Short: "Manage category submissions"}
	s.AddCommand(submissionCreateCmd())
	s.AddCommand(submissionResubmitCmd())
	s.AddCommand(submissionSignOffCmd())
	s.AddCommand(submissionListCmd())
	return s
}

func submissionCreateCmd() *cobra.Command {
	var opts engine.SubmissionOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a category for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.CreateSubmission(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(sub)
			})
		},
	}
	cmd.Flags().StringVar(&opts.PortfolioID, "portfolio", "", "portfolio id")
	cmd.Flags().StringVar(&opts.CategoryName, "category", "", "category name")
	cmd.Flags().StringVar(&opts.CategoryID, "category-id", "", "category id (derived from the name when empty)")
	cmd.Flags().StringVar(&opts.QualificationID, "qualification", "", "qualification id")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}

func submissionResubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <submission-id>",
		Short: "Resubmit after feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.Resubmit(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(sub)
			})
		},
	}
}

func submissionSignOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signoff <submission-id>",
		Short: "Sign off an approved submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.SignOff(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(sub)
			})
		},
	}
}

func submissionListCmd() *cobra.Command {
	var f repo.SubmissionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSubmissions(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				render.Submissions(os.Stdout, items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.PortfolioID, "portfolio", "", "portfolio id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringSliceVar(&f.Categories, "category", nil, "category filter (repeatable)")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.Repo.LatestEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, evt := range items {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.Actor})
				}
				printTable(table.Row{"ID", "Time", "Type", "Kind", "Entity", "Actor"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter ("+strings.Join(events.Types(), ", ")+")")
	return cmd
}
