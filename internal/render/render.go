// Package render prints a viewer snapshot for a terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"portfolioshare/internal/domain"
	"portfolioshare/internal/viewer"
)

// Headings shown for pages that never reach the ready state.
const (
	HeadingInvalidLink = "Invalid Link"
	HeadingNotFound    = "Portfolio Not Found"
	HeadingExpired     = "Link Expired"
	HeadingLoading     = "Loading shared portfolio"
)

// NameRequired is shown while writes are blocked on a missing reviewer name.
const NameRequired = "Enter your name to leave feedback or review submissions."

// Page writes the whole page for v.
func Page(w io.Writer, v viewer.View) error {
	p := &printer{w: w}
	switch v.State {
	case viewer.StateLoading:
		p.heading(HeadingLoading)
	case viewer.StateExpired:
		p.heading(HeadingExpired)
		p.line("This share link has expired or been revoked. Ask the apprentice for a new link.")
	case viewer.StateError:
		if v.Failure == viewer.FailureInvalidLink {
			p.heading(HeadingInvalidLink)
			p.line("The link is missing its share token. Check you copied the whole address.")
		} else {
			p.heading(HeadingNotFound)
			p.line("No portfolio was found for this link.")
		}
	case viewer.StateReady:
		p.ready(v)
	}
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) line(s string) { p.printf("%s\n", s) }

func (p *printer) heading(s string) {
	p.printf("%s\n%s\n", text.Bold.Sprint(s), strings.Repeat("=", text.RuneWidthWithoutEscSequences(s)))
}

func (p *printer) section(s string) {
	p.printf("\n%s\n%s\n", text.Bold.Sprint(s), strings.Repeat("-", text.RuneWidthWithoutEscSequences(s)))
}

func (p *printer) table(tw table.Writer) {
	tw.SetStyle(table.StyleLight)
	p.printf("%s\n", tw.Render())
}

func (p *printer) ready(v viewer.View) {
	title := v.Share.ShareTitle
	if title == "" {
		title = fmt.Sprintf("%s's portfolio", v.Share.OwnerName)
	}
	p.heading(title)
	p.printf("Shared by %s\n", v.Share.OwnerName)
	if v.Share.ShareDescription != "" {
		p.line(v.Share.ShareDescription)
	}
	p.printf("%d evidence entries, %d awaiting review\n", len(v.Entries), v.PendingCount())
	p.printf("Reviewing as: %s\n", identity(v.Identity))
	if !v.CanWrite {
		p.line(text.FgYellow.Sprint(NameRequired))
	}
	if v.Notice != nil {
		p.printf("\n%s\n", text.FgGreen.Sprint(v.Notice.String()))
	}

	p.section("Evidence")
	if len(v.Entries) == 0 {
		p.line("No evidence has been shared.")
	}
	for _, e := range v.Entries {
		p.entry(e)
	}

	p.section("Awaiting Review")
	if len(v.Pending) == 0 {
		p.line("Nothing is awaiting review.")
	}
	for _, pv := range v.Pending {
		p.pending(pv)
	}

	p.section("Reviewed")
	if len(v.Reviewed) == 0 {
		p.line("No submissions have been reviewed yet.")
		return
	}
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Category", "Status", "Grade", "Attempt", "Reviewed"})
	for _, s := range v.Reviewed {
		tw.AppendRow(table.Row{s.CategoryName, statusLabel(s.Status), deref(s.Grade), s.SubmissionCount, deref(s.ReviewedAt)})
	}
	p.table(tw)
}

func identity(id viewer.Identity) string {
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = "(no name)"
	}
	return fmt.Sprintf("%s (%s)", name, id.Role)
}

func (p *printer) entry(ev viewer.EntryView) {
	e := ev.Entry
	p.printf("\n%s  [%s] %s\n", text.Bold.Sprint(e.Title), e.CategoryName, e.ID)
	if e.Description != "" {
		p.line(e.Description)
	}
	if len(e.SkillsDemonstrated) > 0 {
		p.printf("Skills: %s\n", strings.Join(e.SkillsDemonstrated, ", "))
	}
	if e.ReflectionNotes != "" {
		p.printf("Reflection: %s\n", e.ReflectionNotes)
	}
	if e.TimeSpent > 0 {
		p.printf("Time spent: %d min\n", e.TimeSpent)
	}
	if len(e.EvidenceFiles) > 0 {
		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"File", "Type", "Size", "URL"})
		for _, f := range e.EvidenceFiles {
			tw.AppendRow(table.Row{f.FileName, f.FileType, size(f.FileSize), f.FileURL})
		}
		p.table(tw)
	}
	p.printf("Comments (%d)\n", ev.CommentCount)
	for _, item := range ev.Thread {
		p.comment(item)
	}
	if ev.Busy {
		p.line("  Sending comment...")
	}
	if ev.Succeeded {
		p.line(text.FgGreen.Sprint("  Comment added"))
	}
	if ev.Draft != "" {
		p.printf("  Draft: %s\n", ev.Draft)
	}
}

func (p *printer) comment(item viewer.ThreadItem) {
	c := item.Comment
	indent := "  "
	if item.Depth > 0 {
		indent = "      ↳ "
	}
	initials := c.AuthorInitials
	if initials == "" {
		initials = domain.Initials(c.AuthorName)
	}
	meta := fmt.Sprintf("[%s] %s, %s", initials, c.AuthorName, c.AuthorRole)
	if item.Orphan {
		meta += " (reply)"
	}
	if c.RequiresAction && !c.IsResolved {
		meta += " " + text.FgYellow.Sprint("action required")
	}
	p.printf("%s%s: %s\n", indent, meta, c.Content)
}

func (p *printer) pending(pv viewer.PendingView) {
	s := pv.Submission
	p.printf("\n%s  %s  attempt %d  %s\n", text.Bold.Sprint(s.CategoryName), statusLabel(s.Status), s.SubmissionCount, s.ID)
	if pv.PreviousAttempt > 0 {
		p.printf("Previous Feedback (Attempt #%d)\n", pv.PreviousAttempt)
		p.printf("  %s\n", deref(s.PreviousFeedback))
		if g := deref(s.PreviousGrade); g != "" {
			p.printf("  Grade: %s\n", g)
		}
	}
	if !pv.DrawerOpen {
		return
	}
	f := pv.Form
	p.line("Review")
	p.printf("  Feedback: %s\n", f.Feedback)
	p.printf("  Grade: %s\n", f.Grade)
	p.printf("  Action required: %s\n", f.ActionRequired)
	p.printf("  Strengths: %s\n", f.Strengths)
	p.printf("  Areas for improvement: %s\n", f.AreasForImprovement)
	switch {
	case pv.Busy:
		p.line("  Submitting review...")
	case !pv.CanSendBack:
		p.line("  Feedback is required to send back.")
	}
}

func statusLabel(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}

func size(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Submissions renders the owner-side submission listing.
func Submissions(w io.Writer, subs []domain.Submission) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Category", "Status", "Attempt", "Grade", "Reviewer"})
	for _, s := range subs {
		tw.AppendRow(table.Row{s.ID, s.CategoryName, s.Status, s.SubmissionCount, deref(s.Grade), deref(s.ReviewerName)})
	}
	tw.Render()
}
