package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/web/pages"
)

// loader is the part of a synchronizer watch drives.
type loader interface {
	LoadMore() (bool, error)
	Updates() <-chan feed.State
}

// watch prints every state until ctx is done or the feed closes. Once the
// first page has settled it requests up to more further pages, one at a time.
func watch(ctx context.Context, f loader, more int, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-f.Updates():
			if !ok {
				return nil
			}
			if err := printState(w, st, time.Now()); err != nil {
				return err
			}
			if more > 0 && !st.Busy() && st.HasMore() && st.Error == "" {
				started, err := f.LoadMore()
				if err != nil {
					return nil
				}
				if started {
					more--
				}
			}
		}
	}
}

func printState(w io.Writer, st feed.State, now time.Time) error {
	header := fmt.Sprintf("== %s  %d builds", describeScope(st.Scope), len(st.Builds))
	switch {
	case st.FetchingBuilds:
		header += "  (loading)"
	case st.FetchingMore:
		header += "  (loading more)"
	case st.Exhausted:
		header += "  (end)"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	if st.Error != "" {
		if _, err := fmt.Fprintln(w, "error: "+st.Error); err != nil {
			return err
		}
	}
	return printBuilds(w, st.Builds, now)
}

func describeScope(s feed.Scope) string {
	switch s.Type {
	case feed.ScopeBranch:
		return "branch " + s.Branch
	case feed.ScopePR:
		return "pr #" + strconv.Itoa(s.PR)
	case feed.ScopeCommit:
		return "commit " + s.Commit
	default:
		return "latest"
	}
}

// printBuilds writes one row per build followed by an indented row per job.
func printBuilds(w io.Writer, builds []models.Build, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, b := range builds {
		ref := b.Branch
		if b.PR > 0 {
			ref += " (PR #" + strconv.Itoa(b.PR) + ")"
		}
		fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\t%s\n", b.ID, ref, short(b.Commit), b.Status, pages.Duration(b.StartTime, b.EndTime, now))
		for _, j := range b.Jobs {
			name := j.Image
			if j.Env != "" {
				name += " " + j.Env
			}
			fmt.Fprintf(tw, "\t  %s\t\t%s\t%s\n", strings.TrimSpace(name), j.Status, pages.Duration(j.StartTime, j.EndTime, now))
		}
	}
	return tw.Flush()
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
