package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/keel/internal/actorstore"
	cfgpkg "github.com/rzbill/keel/internal/config"
	"github.com/rzbill/keel/internal/runtime"
	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
	"github.com/rzbill/keel/pkg/id"
)

// NewCommand builds the offline store command tree. Commands open the data
// directory directly; they must not run while a server owns it.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and edit an actor's stored state offline",
	}
	cmd.PersistentFlags().String("data-dir", "", "Data directory (defaults to the OS-specific location)")
	cmd.PersistentFlags().String("actor", "", "Actor ID (32 hex characters)")
	cmd.AddCommand(
		newGetCmd(),
		newPutCmd(),
		newDeleteCmd(),
		newListCmd(),
		newDeleteAllCmd(),
		newAlarmCmd(),
	)
	return cmd
}

// withActor opens the runtime for one command invocation and hands the
// actor's state to fn.
func withActor(cmd *cobra.Command, fn func(ctx context.Context, st *actorstore.State) error) error {
	actorHex, _ := cmd.Flags().GetString("actor")
	if actorHex == "" {
		return errors.New("--actor is required")
	}
	actorID, err := id.Parse(actorHex)
	if err != nil {
		return fmt.Errorf("invalid --actor: %w", err)
	}

	cfg := cfgpkg.Default()
	cfgpkg.FromEnv(&cfg)
	// Offline tooling gets the full surface, including alarm and bookmark
	// state behind the experimental capability.
	cfg.Experimental = true
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = cfg.DataDir
	}

	rt, err := runtime.Open(runtime.Options{
		DataDir: dataDir,
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfg,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := rt.Actor(actorID)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), st)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
				v, ok, err := st.Storage().Get(ctx, args[0], actorstore.GetOptions{})
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q not found", args[0])
				}
				cmd.Println(string(v))
				return nil
			})
		},
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
				return st.Storage().Put(ctx, args[0], []byte(args[1]), actorstore.PutOptions{})
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
				existed, err := st.Storage().Delete(ctx, args[0], actorstore.PutOptions{})
				if err != nil {
					return err
				}
				if existed {
					cmd.Println("deleted")
				} else {
					cmd.Println("not found")
				}
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			limit, _ := cmd.Flags().GetInt("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")
			return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
				entries, err := st.Storage().List(ctx, actorstore.ListOptions{
					Prefix:  prefix,
					Start:   start,
					End:     end,
					Limit:   limit,
					Reverse: reverse,
				})
				if err != nil {
					return err
				}
				for _, e := range entries {
					cmd.Printf("%s\t%s\n", e.Key, e.Value)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("prefix", "", "Only keys with this prefix")
	cmd.Flags().String("start", "", "Inclusive start key")
	cmd.Flags().String("end", "", "Exclusive end key")
	cmd.Flags().Int("limit", 0, "Maximum entries (0 = unlimited)")
	cmd.Flags().Bool("reverse", false, "Descending key order")
	return cmd
}

func newDeleteAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deleteall",
		Short: "Wipe the actor's entire keyspace (the alarm survives)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
				return st.Storage().DeleteAll(ctx, actorstore.PutOptions{})
			})
		},
	}
}

func newAlarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarm",
		Short: "Inspect or edit the actor's alarm",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the scheduled wake time",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
					at, ok, err := st.Storage().GetAlarm(ctx, actorstore.GetAlarmOptions{})
					if err != nil {
						return err
					}
					if !ok {
						cmd.Println("no alarm")
						return nil
					}
					cmd.Println(at.UTC().Format(time.RFC3339))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <rfc3339-time>",
			Short: "Schedule the wake time",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				at, err := time.Parse(time.RFC3339, args[0])
				if err != nil {
					return fmt.Errorf("invalid time %q: %w", args[0], err)
				}
				return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
					return st.Storage().SetAlarm(ctx, at, actorstore.SetAlarmOptions{})
				})
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Clear the scheduled wake time",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd, func(ctx context.Context, st *actorstore.State) error {
					return st.Storage().DeleteAlarm(ctx, actorstore.SetAlarmOptions{})
				})
			},
		},
	)
	return cmd
}
