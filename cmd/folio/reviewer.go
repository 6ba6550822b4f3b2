package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"portfolioshare/internal/domain"
	"portfolioshare/internal/render"
	"portfolioshare/internal/viewer"
	sharesdk "portfolioshare/sdk/go"
)

// identityFlags are the reviewer identity shared by comment and review.
type identityFlags struct {
	name string
	role string
}

func (f *identityFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "your name")
	cmd.Flags().StringVar(&f.role, "role", domain.DefaultRole, "your role ("+strings.Join(domain.ReviewerRoles(), ", ")+")")
}

func (f identityFlags) apply(s *viewer.Session) error {
	s.SetReviewerName(f.name)
	return s.SetReviewerRole(f.role)
}

// withSession opens a viewer session for token against the configured
// endpoint and loads it. fn runs only when the share resolved.
func withSession(ctx context.Context, token string, fn func(context.Context, *viewer.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Client.Endpoint == "" {
		return errors.New("client.endpoint or FOLIO_ENDPOINT is required")
	}
	client := sharesdk.New(cfg.Client.Endpoint, cfg.Client.AnonKey)
	if cfg.Client.Timeout > 0 {
		client.Timeout = cfg.Client.Timeout
	}
	token = strings.TrimSpace(token)
	s := viewer.New(client.Share(token), viewer.Config{
		HasToken:     token != "",
		Logger:       log.Named("viewer"),
		SuccessFlash: cfg.Client.SuccessFlash,
	})
	defer s.Close()
	if err := s.Load(ctx); err != nil {
		log.Debug("load share", zap.Error(err))
	}
	if s.State() == viewer.StateReady && fn != nil {
		if err := fn(ctx, s); err != nil {
			return err
		}
	}
	return render.Page(os.Stdout, s.View())
}

func viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view [token]",
		Short: "Show a shared portfolio",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), firstArg(args), nil)
		},
	}
}

func commentCmd() *cobra.Command {
	var id identityFlags
	var entryID, content, parentID string
	cmd := &cobra.Command{
		Use:   "comment <token>",
		Short: "Comment on an entry of a shared portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(ctx context.Context, s *viewer.Session) error {
				if err := id.apply(s); err != nil {
					return err
				}
				s.SetCommentDraft(entryID, content)
				if parentID != "" {
					return s.AddReply(ctx, entryID, parentID)
				}
				return s.AddComment(ctx, entryID)
			})
		},
	}
	id.bind(cmd)
	cmd.Flags().StringVar(&entryID, "entry", "", "entry id")
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	cmd.Flags().StringVar(&parentID, "reply-to", "", "comment id to reply to")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

func reviewCmd() *cobra.Command {
	var id identityFlags
	var submissionID, action string
	var form viewer.ReviewForm
	cmd := &cobra.Command{
		Use:   "review <token>",
		Short: "Review a pending submission of a shared portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(ctx context.Context, s *viewer.Session) error {
				if err := id.apply(s); err != nil {
					return err
				}
				s.SetForm(submissionID, form)
				if err := s.Review(ctx, submissionID, action); err != nil {
					return err
				}
				if n, ok := s.Notice(); ok {
					fmt.Println(n)
					s.DismissNotice()
				}
				return nil
			})
		},
	}
	id.bind(cmd)
	cmd.Flags().StringVar(&submissionID, "submission", "", "submission id")
	cmd.Flags().StringVar(&action, "action", "", "action ("+strings.Join(domain.Actions(), ", ")+")")
	cmd.Flags().StringVar(&form.Feedback, "feedback", "", "feedback (required to send back)")
	cmd.Flags().StringVar(&form.Grade, "grade", "", "grade ("+strings.Join(domain.Grades(), ", ")+")")
	cmd.Flags().StringVar(&form.ActionRequired, "action-required", "", "what the apprentice must do next")
	cmd.Flags().StringVar(&form.Strengths, "strengths", "", "strengths noted")
	cmd.Flags().StringVar(&form.AreasForImprovement, "areas", "", "areas for improvement")
	_ = cmd.MarkFlagRequired("submission")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
