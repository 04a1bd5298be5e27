package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/events"
	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/shares"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Issue an owner access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			token, lifetime, err := app.tokens.IssueToken(cmd.Context(), app.config.OwnerSubject)
			if err != nil {
				return err
			}
			expiresAt := time.Now().Add(time.Duration(lifetime) * time.Second)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", humanize.Time(expiresAt))
			return nil
		},
	}
}

func newBooksCommand() *cobra.Command {
	booksCmd := &cobra.Command{
		Use:   "books",
		Short: "Manage the library",
	}

	var (
		query   string
		sortKey string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedSort, err := library.ParseSortKey(sortKey)
			if err != nil {
				return err
			}
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			books, err := app.library.ListBooks(cmd.Context(), library.ListOptions{Query: query, Sort: parsedSort})
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(books))
			for _, book := range books {
				rows = append(rows, []string{
					book.ID,
					book.Title,
					book.Author,
					book.Format,
					humanize.Bytes(uint64(max(book.SizeBytes, 0))),
					strconv.Itoa(book.Progress) + "%",
					humanize.Time(time.Unix(book.AddedAtSeconds, 0)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Author", "Format", "Size", "Progress", "Added"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	listCmd.Flags().StringVar(&query, "query", "", "Filter by title, author or format")
	listCmd.Flags().StringVar(&sortKey, "sort", string(library.SortDateDesc), "Sort order")

	addCmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Add txt, md or docx files to the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			var failures int
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					failures++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				book, err := app.library.AddFromFile(cmd.Context(), filepath.Base(path), data)
				if err != nil {
					failures++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				app.publish(events.TypeBookAdded, book.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", book.ID, book.Title)
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d files failed", failures, len(args))
			}
			return nil
		},
	}

	manifestCmd := &cobra.Command{
		Use:   "import-manifest <manifest.yaml>",
		Short: "Add the books listed in a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := library.LoadManifest(args[0])
			if err != nil {
				return err
			}
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			var failures int
			for _, result := range app.library.ImportManifest(cmd.Context(), manifest) {
				if result.Err != nil {
					failures++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", result.Path, result.Err)
					continue
				}
				app.publish(events.TypeBookAdded, result.Book.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", result.Book.ID, result.Book.Title)
			}
			if failures > 0 {
				return fmt.Errorf("%d manifest entries failed", failures)
			}
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show library totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.library.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Books", "Characters", "Reading hours", "Average progress", "Size"},
				[][]string{{
					strconv.Itoa(stats.TotalBooks),
					humanize.Comma(stats.TotalCharacters),
					strconv.FormatInt(stats.ReadingHours, 10),
					strconv.Itoa(stats.AverageProgress) + "%",
					stats.TotalSizeHuman,
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	booksCmd.AddCommand(listCmd, addCmd, manifestCmd, statsCmd)
	return booksCmd
}

func newSharesCommand() *cobra.Command {
	sharesCmd := &cobra.Command{
		Use:   "shares",
		Short: "Manage share sessions",
	}

	var (
		bookID string
		all    bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List share sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			sessions, err := app.shares.ListSessions(cmd.Context(), shares.ListFilter{
				BookID:          library.BookID(strings.TrimSpace(bookID)),
				IncludeInactive: all,
			})
			if err != nil {
				return err
			}
			now := time.Now()
			rows := make([][]string, 0, len(sessions))
			for _, session := range sessions {
				rows = append(rows, []string{
					session.ID,
					session.BookTitle,
					string(session.State(now)),
					fmt.Sprintf("%d/%d", session.DownloadCount, session.MaxDownloads),
					humanize.Time(session.ExpiresAt()),
					strconv.FormatBool(session.PasswordProtected),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Session", "Book", "State", "Downloads", "Expires", "Password"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	listCmd.Flags().StringVar(&bookID, "book", "", "Only sessions of this book")
	listCmd.Flags().BoolVar(&all, "all", false, "Include inactive sessions")

	revokeCmd := &cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoke a share session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			session, err := app.shares.RevokeSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", session.ID, session.State(time.Now()))
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Close expired and exhausted share sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			closed, err := app.shares.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %d sessions\n", closed)
			return nil
		},
	}

	sharesCmd.AddCommand(listCmd, revokeCmd, cleanupCmd)
	return sharesCmd
}

func newImportCommand() *cobra.Command {
	var askPassword bool
	importCmd := &cobra.Command{
		Use:   "import <link|token|file.moyue>",
		Short: "Import a shared book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if askPassword {
				value, err := readPassword(cmd, "Share password: ")
				if err != nil {
					return err
				}
				password = value
			}

			app, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			source := args[0]
			var book library.Book
			if info, statErr := os.Stat(source); statErr == nil && info.Mode().IsRegular() {
				data, readErr := os.ReadFile(source)
				if readErr != nil {
					return readErr
				}
				book, err = app.shares.ImportFile(cmd.Context(), data, password)
			} else {
				book, err = app.shares.ImportLink(cmd.Context(), source, password)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", book.ID, book.Title)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&askPassword, "password", false, "Prompt for the share password")
	return importCmd
}

func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(cmd.ErrOrStderr())
	return strings.TrimSpace(string(bytePassword)), nil
}
