// cmd/vv/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vv/internal/commit"
	vverrors "vv/internal/errors"
	"vv/internal/logging"
	"vv/internal/merge"
	"vv/internal/repo"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "vv",
	Short: "vv is a small content-addressed version control system",
	Long: `vv stores file contents by hash, records snapshots of the whole tree as
commits, keeps branches as named pointers into the commit graph and merges
divergent branches with a three-way, line-level merge.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	var initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			r, err := repo.Init(dir, nil, logger)
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			defer r.Close()

			fmt.Println("Initialized empty vv repository in", r.Root)
			return nil
		},
	}

	var addCmd = &cobra.Command{
		Use:   "add [paths...]",
		Short: "Stage files",
		Long:  `Stores the named files and stages them for the next commit. Use '.' to stage every file not ignored.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r *repo.Repository) error {
				return r.StageAdd(args...)
			})
		},
	}

	var rmCmd = &cobra.Command{
		Use:   "rm [paths...]",
		Short: "Stage the removal of tracked files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r *repo.Repository) error {
				return r.StageRemove(args...)
			})
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the current branch and staged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r *repo.Repository) error {
				cur, err := r.CurrentBranch()
				if err != nil {
					return err
				}
				fmt.Printf("On branch %s\n", cur.Name)
				if cur.IsUnborn() {
					fmt.Println("No commits yet")
				}

				staged, err := r.Staged()
				if err != nil {
					return err
				}
				if len(staged) == 0 {
					fmt.Println("Nothing staged")
					return nil
				}

				green := color.New(color.FgGreen).SprintFunc()
				red := color.New(color.FgRed).SprintFunc()
				fmt.Println("\nChanges to be committed:")
				for _, e := range staged {
					if e.Removed {
						fmt.Printf("  %s  %s\n", red("deleted:"), e.Path)
					} else {
						fmt.Printf("  %s  %s\n", green("staged: "), e.Path)
					}
				}
				return nil
			})
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Record the staged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			authorFlag, _ := cmd.Flags().GetString("author")
			tags, _ := cmd.Flags().GetStringToString("tag")

			var author commit.Author
			if authorFlag != "" {
				var err error
				if author, err = commit.ParseAuthor(authorFlag); err != nil {
					return err
				}
			}

			return withRepo(func(r *repo.Repository) error {
				c, err := r.Commit(message, author, repo.WithTags(tags))
				if err != nil {
					return err
				}
				cur, err := r.CurrentBranch()
				if err != nil {
					return err
				}
				fmt.Printf("[%s %s] %s\n", cur.Name, c.Short(), firstLine(c.Message))
				return nil
			})
		},
	}
	commitCmd.Flags().StringP("message", "m", "", "Commit message")
	commitCmd.Flags().String("author", "", `Override the configured author ("Name <email>")`)
	commitCmd.Flags().StringToStringP("tag", "t", nil, "Annotate the commit (key=value, repeatable)")
	commitCmd.MarkFlagRequired("message")

	var branchCmd = &cobra.Command{
		Use:   "branch",
		Short: "List, create or delete branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(listBranches)
		},
	}

	var branchCreateCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Create a branch at the current commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r *repo.Repository) error {
				b, err := r.BranchCreate(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Created branch %s\n", b.Name)
				return nil
			})
		},
	}

	var branchListCmd = &cobra.Command{
		Use:   "list",
		Short: "List branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(listBranches)
		},
	}

	var branchDeleteCmd = &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r *repo.Repository) error {
				if err := r.BranchDelete(args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted branch %s\n", args[0])
				return nil
			})
		},
	}

	var checkoutCmd = &cobra.Command{
		Use:   "checkout <branch>",
		Short: "Switch the current branch",
		Long:  `Points HEAD at the branch. With --write the branch's files are written into the working directory.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			write, _ := cmd.Flags().GetBool("write")
			return withRepo(func(r *repo.Repository) error {
				if err := r.BranchCheckout(args[0]); err != nil {
					return err
				}
				if write {
					if err := r.Materialize(r.Root); err != nil {
						return err
					}
				}
				fmt.Printf("Switched to branch '%s'\n", args[0])
				return nil
			})
		},
	}
	checkoutCmd.Flags().BoolP("write", "w", false, "Write the branch's files into the working directory")

	var mergeCmd = &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a branch into the current branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []merge.Option
			if cmd.Flags().Changed("strategy") {
				s, _ := cmd.Flags().GetString("strategy")
				opts = append(opts, merge.WithStrategy(merge.Strategy(s)))
			}
			if cmd.Flags().Changed("ff") {
				ff, _ := cmd.Flags().GetBool("ff")
				opts = append(opts, merge.WithFastForward(ff))
			}
			if msg, _ := cmd.Flags().GetString("message"); msg != "" {
				opts = append(opts, merge.WithMessage(msg))
			}

			return withRepo(func(r *repo.Repository) error {
				res, err := r.Merge(args[0], opts...)
				if err != nil {
					return err
				}
				return printMergeResult(res)
			})
		},
	}
	mergeCmd.Flags().StringP("strategy", "s", "three-way", "Merge strategy (three-way, ours, theirs)")
	mergeCmd.Flags().Bool("ff", false, "Fast-forward when the current branch has no commits of its own")
	mergeCmd.Flags().StringP("message", "m", "", "Merge commit message")

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the commit history of the current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("number")
			return withRepo(func(r *repo.Repository) error {
				commits, err := r.Log(limit)
				if err != nil {
					return err
				}
				yellow := color.New(color.FgYellow).SprintFunc()
				for _, c := range commits {
					fmt.Printf("%s %s\n", yellow("commit"), yellow(c.Digest))
					if c.IsMerge() {
						fmt.Printf("Merge:  %s\n", strings.Join(shortDigests(c.Parents), " "))
					}
					fmt.Printf("Author: %s\n", c.Author)
					fmt.Printf("Date:   %s\n", c.Timestamp.Local().Format(time.RFC1123Z))
					printTags(c.Tags)
					fmt.Println()
					fmt.Printf("    %s\n\n", strings.ReplaceAll(c.Message, "\n", "\n    "))
				}
				return nil
			})
		},
	}
	logCmd.Flags().IntP("number", "n", 0, "Limit the number of commits shown")

	var showCmd = &cobra.Command{
		Use:   "show <commit>",
		Short: "Show a commit by full or abbreviated digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r *repo.Repository) error {
				c, err := r.Resolve(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("commit %s\n", c.Digest)
				for _, p := range c.Parents {
					fmt.Printf("parent %s\n", p)
				}
				fmt.Printf("Author: %s\n", c.Author)
				printTags(c.Tags)
				fmt.Printf("\n    %s\n\n", c.Message)
				for _, path := range slices.Sorted(maps.Keys(c.Tree)) {
					fmt.Printf("%s  %s\n", c.Tree[path][:12], path)
				}
				return nil
			})
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Show staged changes against the current commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r *repo.Repository) error {
				paths := args
				if len(paths) == 0 {
					staged, err := r.Staged()
					if err != nil {
						return err
					}
					for _, e := range staged {
						paths = append(paths, e.Path)
					}
				}

				header := color.New(color.Bold)
				for _, p := range paths {
					res, err := r.Diff(p)
					if err != nil {
						return err
					}
					if len(res.Hunks) == 0 {
						continue
					}
					header.Printf("--- a/%s\n+++ b/%s\n", p, p)
					printColoredDiff(res.Format())
				}
				return nil
			})
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stage edits automatically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			debounce, _ := cmd.Flags().GetDuration("debounce")
			return withRepo(func(r *repo.Repository) error {
				t, err := r.Watch(debounce)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
				defer stop()

				fmt.Println("Watching", r.Root, "(Ctrl-C to stop)")
				return t.Run(ctx)
			})
		},
	}
	watchCmd.Flags().Duration("debounce", 200*time.Millisecond, "Quiet period before staging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(watchCmd)

	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchListCmd)
	branchCmd.AddCommand(branchDeleteCmd)
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
		return logger, nil
	}
	logger, err := logging.NewLogger("warn")
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return logger.Logger, nil
}

// withRepo opens the repository containing the working directory, runs fn
// and closes it again.
func withRepo(fn func(r *repo.Repository) error) (err error) {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	r, err := repo.Open(cwd, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(r)
}

func listBranches(r *repo.Repository) error {
	branches, err := r.BranchList()
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	for _, b := range branches {
		if b.Current {
			fmt.Printf("* %s\n", green(b.Name))
		} else {
			fmt.Printf("  %s\n", b.Name)
		}
	}
	return nil
}

func printMergeResult(res *merge.Result) error {
	switch {
	case res.UpToDate:
		fmt.Println("Already up to date.")
		return nil
	case res.FastForward:
		fmt.Printf("Fast-forward to %s\n", res.Commit.Short())
		return nil
	case res.Status == merge.Success:
		fmt.Printf("Merge made: %s\n", res.Commit.Short())
		return nil
	}

	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	for _, c := range res.Conflicts {
		red.Printf("CONFLICT (%s): %s\n", c.Kind, c.Path)
		switch c.Kind {
		case merge.KindBinary:
			fmt.Println("  binary files differ")
		case merge.KindDeleteModify:
			if c.Ours == nil {
				fmt.Println("  deleted in ours, modified in theirs")
			} else {
				fmt.Println("  modified in ours, deleted in theirs")
			}
		default:
			yellow.Printf("  base lines %d-%d\n", c.BaseStart+1, c.BaseEnd)
			fmt.Print(c.Markers())
		}
	}
	return fmt.Errorf("automatic merge failed in %s", strings.Join(res.ConflictPaths(), ", "))
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

// describe turns an error into a message with a hint for the common kinds.
func describe(err error) string {
	var e *vverrors.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Type {
	case vverrors.ErrorTypeEmptyStagingSet:
		return "nothing to commit (use \"vv add\" to stage files)"
	case vverrors.ErrorTypeRepositoryLocked:
		return err.Error() + "\nanother vv process is running; retry when it finishes"
	case vverrors.ErrorTypeNoCommonAncestor:
		return err.Error() + "\nrefusing to merge unrelated histories"
	case vverrors.ErrorTypeCannotDeleteCurrent:
		return err.Error() + "\ncheck out another branch first"
	default:
		return err.Error()
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func shortDigests(digests []string) []string {
	out := make([]string, len(digests))
	for i, d := range digests {
		out[i] = d[:min(len(d), 7)]
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func printTags(tags map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		fmt.Printf("Tag:    %s=%s\n", k, tags[k])
	}
}
