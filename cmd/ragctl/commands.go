package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nikhilbhutani/ragdesk/internal/auth"
	"github.com/nikhilbhutani/ragdesk/internal/hooks"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/query"
	"github.com/nikhilbhutani/ragdesk/internal/watcher"
)

func (a *app) cmdWorkspaces(ctx context.Context, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch {
	case sub == "list":
		q := a.hooks.Workspaces(query.QueryOptions[[]models.Workspace]{})
		defer q.Close()
		list, err := q.Get(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVERSION\tUPDATED")
		for _, ws := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", ws.ID, ws.Name, ws.Version, ws.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()

	case sub == "create" && len(args) >= 1:
		m := a.hooks.CreateWorkspace()
		defer m.Close()
		ws, err := m.Mutate(ctx, models.CreateWorkspaceRequest{Name: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		fmt.Println(ws.ID)
		return nil

	case sub == "rename" && len(args) >= 2:
		q := a.hooks.Workspace(args[0], query.QueryOptions[*models.Workspace]{})
		defer q.Close()
		current, err := q.Get(ctx)
		if err != nil {
			return err
		}
		name := strings.Join(args[1:], " ")
		m := a.hooks.UpdateWorkspace()
		defer m.Close()
		ws, err := m.Mutate(ctx, models.UpdateWorkspaceRequest{ID: current.ID, Name: &name, Version: current.Version})
		if err != nil {
			return err
		}
		fmt.Printf("%s renamed to %q (version %d)\n", ws.ID, ws.Name, ws.Version)
		return nil

	case sub == "delete" && len(args) == 1:
		m := a.hooks.DeleteWorkspace()
		defer m.Close()
		_, err := m.Mutate(ctx, args[0])
		return err
	}
	return fmt.Errorf("usage: ragctl workspaces [list | create NAME | rename ID NAME | delete ID]")
}

func (a *app) cmdDocs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("docs", flag.ContinueOnError)
	status := fs.String("status", "", "only documents with this status")
	watch := fs.Bool("watch", false, "keep printing until no document is pending")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ws, err := a.workspace(fs.Arg(0))
	if err != nil {
		return err
	}

	q := a.hooks.Documents(models.ListDocumentsRequest{WorkspaceID: ws, Status: *status}, query.QueryOptions[*models.DocumentList]{})
	defer q.Close()

	list, err := q.Get(ctx)
	if err != nil {
		return err
	}
	printDocuments(list)
	if !*watch || !list.Pending() {
		return nil
	}

	_, err = waitFor(ctx, q, func(l *models.DocumentList) bool {
		fmt.Println()
		printDocuments(l)
		return !l.Pending()
	})
	return err
}

func printDocuments(list *models.DocumentList) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCHUNKS\tSIZE\tERROR")
	for _, d := range list.Documents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", d.ID, d.Name, d.Status, d.ChunkCount, d.SizeBytes, d.Error)
	}
	fmt.Fprintf(tw, "\n%d document(s)\n", list.Count)
	tw.Flush()
}

func (a *app) cmdUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	wait := fs.Bool("wait", false, "wait until ingestion finishes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: ragctl upload [-wait] WORKSPACE FILE...")
	}
	ws, err := a.workspace(fs.Arg(0))
	if err != nil {
		return err
	}

	m := a.hooks.UploadDocument()
	defer m.Close()

	var failed int
	for _, path := range fs.Args()[1:] {
		doc, err := a.uploadFile(ctx, m, ws, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", doc.ID, doc.Name, doc.Status)
		if !*wait {
			continue
		}
		final, err := a.waitDocument(ctx, ws, doc.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s %s\n", final.ID, final.Name, final.Status, final.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d upload(s) failed", failed)
	}
	return nil
}

func (a *app) uploadFile(ctx context.Context, m *query.Mutation[models.UploadDocumentRequest, *models.Document], ws, path string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return m.Mutate(ctx, models.UploadDocumentRequest{
		WorkspaceID: ws,
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		File:        f,
		Metadata:    map[string]any{"source": "ragctl", "path": path},
	})
}

func (a *app) waitDocument(ctx context.Context, ws, id string) (*models.Document, error) {
	q := a.hooks.Document(ws, id, query.QueryOptions[*models.Document]{})
	defer q.Close()
	doc, err := q.Get(ctx)
	if err != nil || doc.Terminal() {
		return doc, err
	}
	return waitFor(ctx, q, func(d *models.Document) bool { return d.Terminal() })
}

// waitFor blocks until a background refresh of q produces data satisfying
// done. The hooks keep refetching while ingestion is running.
func waitFor[T any](ctx context.Context, q *query.Query[T], done func(T) bool) (T, error) {
	updates := make(chan T, 1)
	unsub := q.Subscribe(func(st query.State[T]) {
		if !st.HasData || st.IsFetching {
			return
		}
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- st.Data:
		default:
		}
	})
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case v := <-updates:
			if done(v) {
				return v, nil
			}
		}
	}
}

func (a *app) cmdDeleteDoc(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: ragctl delete-doc WORKSPACE DOCUMENT")
	}
	ws, err := a.workspace(args[0])
	if err != nil {
		return err
	}
	m := a.hooks.DeleteDocument()
	defer m.Close()
	_, err = m.Mutate(ctx, hooks.DocumentRef{WorkspaceID: ws, DocumentID: args[1]})
	return err
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	topK := fs.Int("top-k", 0, "number of results (server default when 0)")
	minScore := fs.Float64("min-score", 0, "drop results scoring below this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: ragctl search WORKSPACE QUERY...")
	}
	ws, err := a.workspace(fs.Arg(0))
	if err != nil {
		return err
	}

	q := a.hooks.Search(models.SearchRequest{
		WorkspaceID: ws,
		Query:       strings.Join(fs.Args()[1:], " "),
		TopK:        *topK,
		MinScore:    *minScore,
	}, query.QueryOptions[*models.SearchResponse]{})
	defer q.Close()

	resp, err := q.Get(ctx)
	if err != nil {
		return err
	}
	for i, r := range resp.Results {
		fmt.Printf("%d. %s #%d (score %.3f)\n   %s\n", i+1, r.DocumentName, r.ChunkIndex, r.Score, snippet(r.Content, 240))
	}
	fmt.Printf("%d result(s)\n", resp.Count)
	return nil
}

func (a *app) cmdChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	topK := fs.Int("top-k", 0, "passages to retrieve per question")
	provider := fs.String("provider", "", "LLM provider (server default when empty)")
	model := fs.String("model", "", "LLM model (provider default when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ws, err := a.workspace(fs.Arg(0))
	if err != nil {
		return err
	}

	session := a.hooks.NewChatSession(ws)
	defer session.Close()
	var opts []func(*models.ChatRequest)
	if *topK > 0 {
		opts = append(opts, hooks.WithTopK(*topK))
	}
	if *provider != "" || *model != "" {
		opts = append(opts, hooks.WithModel(*provider, *model))
	}

	fmt.Fprintln(os.Stderr, "Ask a question. /reset starts over, /quit or Ctrl-D exits.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			session.Reset()
			fmt.Fprintln(os.Stderr, "conversation cleared")
			continue
		}

		resp, err := session.Send(ctx, line, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Printf("\n%s\n", resp.Answer)
		for i, s := range resp.Sources {
			fmt.Printf("  [Source %d] %s #%d (score %.3f)\n", i+1, s.DocumentName, s.ChunkIndex, s.Score)
		}
		if resp.Model != "" {
			fmt.Printf("  (%s)\n", resp.Model)
		}
		fmt.Println()
	}
}

func (a *app) cmdIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	name := fs.String("name", "", "document name for -text")
	text := fs.String("text", "", "raw text to ingest as a new document")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ws, err := a.workspace(fs.Arg(0))
	if err != nil {
		return err
	}
	var ids []string
	if fs.NArg() > 1 {
		ids = fs.Args()[1:]
	}

	m := a.hooks.TriggerIngest()
	defer m.Close()
	resp, err := m.Mutate(ctx, models.IngestRequest{WorkspaceID: ws, DocumentIDs: ids, Name: *name, Text: *text})
	if err != nil {
		return err
	}
	for _, id := range resp.Queued {
		fmt.Println(id)
	}
	return nil
}

func (a *app) cmdSync(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: ragctl sync WORKSPACE DIR")
	}
	ws, err := a.workspace(args[0])
	if err != nil {
		return err
	}

	w, err := watcher.New(nil, 0, a.logger)
	if err != nil {
		return err
	}
	defer w.Stop()

	m := a.hooks.UploadDocument()
	defer m.Close()
	syncer := watcher.NewSyncer(w, func(ctx context.Context, path string) error {
		_, err := a.uploadFile(ctx, m, ws, path)
		return err
	})
	return syncer.Run(ctx, args[1])
}

func cmdToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "signing secret of the backend (JWT_SECRET)")
	subject := fs.String("sub", "dev", "token subject")
	role := fs.String("role", auth.RoleEditor, "viewer, editor or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("token: -secret or JWT_SECRET is required")
	}
	if auth.RankOf(*role) == 0 {
		return fmt.Errorf("token: unknown role %q", *role)
	}

	tok, err := auth.IssueToken(*secret, *subject, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
