package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lsmkv/pkg/db"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lsmkv",
		Short:         "Embedded LSM key-value store",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initEnv(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "config.yaml", "path to the YAML config file")
	flags.String("data-dir", "", "root directory of all stores (overrides storage.path)")
	flags.String("store", "default", "name of the store to operate on")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Bool("log-json", false, "log as JSON")
	flags.Int("flush-threshold", 0, "memtable size in bytes that triggers a flush (default from config)")
	flags.Float64("index-ratio", 0, "fraction of records with a sparse index entry, in (0,1] (default from config)")
	flags.Bool("no-wal", false, "disable the write-ahead log")

	scan := &cobra.Command{
		Use:   "scan",
		Short: "Compact the store and print live keys in ascending order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := db.SearchOptions{}
			opts.Start, _ = cmd.Flags().GetString("from")
			opts.End, _ = cmd.Flags().GetString("to")
			opts.Prefix, _ = cmd.Flags().GetString("prefix")
			opts.Limit, _ = cmd.Flags().GetInt("limit")

			return withStore(nil, func(st *store.DiskStore) error {
				return db.SearchRange(st, opts, func(r db.SearchResult) error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", r.Key, r.Value)
					return err
				})
			})
		},
	}
	scan.Flags().String("from", "", "first key, inclusive")
	scan.Flags().String("to", "", "last key, exclusive")
	scan.Flags().String("prefix", "", "only keys with this prefix")
	scan.Flags().Int("limit", 0, "maximum number of keys (0 = all)")

	root.AddCommand(
		&cobra.Command{
			Use:   "set [key] [value]",
			Short: "Set the value of a key",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return withStore(nil, func(st *store.DiskStore) error {
					return st.Set(args[0], []byte(args[1]))
				})
			},
		},
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print the value of a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(nil, func(st *store.DiskStore) error {
					v, err := st.Get(args[0])
					if errors.Is(err, dberrors.ErrNotFound) {
						return fmt.Errorf("key %q not found", args[0])
					}
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(v))
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "rm [key]",
			Short: "Remove a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return withStore(nil, func(st *store.DiskStore) error {
					return st.Remove(args[0])
				})
			},
		},
		scan,
		&cobra.Command{
			Use:   "compact",
			Short: "Flush the memtable and merge all generations into one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(nil, func(st *store.DiskStore) error {
					return st.Compact(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print store layout and metrics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				reg := prometheus.NewRegistry()
				return withStore(metrics.NewPrometheus(reg), func(st *store.DiskStore) error {
					stats, err := st.Stats()
					if err != nil {
						return err
					}
					if err := printStats(cmd.OutOrStdout(), stats); err != nil {
						return err
					}
					return printMetrics(cmd.OutOrStdout(), reg)
				})
			},
		},
	)

	return root
}

// withStore opens the configured store, runs fn and closes everything.
func withStore(collector metrics.Collector, fn func(st *store.DiskStore) error) (err error) {
	cfg, err := initConfig()
	if err != nil {
		return err
	}
	if err := initLogger(&cfg); err != nil {
		return err
	}

	opts := []store.Option{}
	if collector != nil {
		opts = append(opts, store.WithMetrics(collector))
	}
	engine, err := db.NewDiskEngine(cfg.Storage, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, engine.Close())
	}()

	name := viper.GetString("store")
	st, err := engine.GetStore(name)
	if errors.Is(err, dberrors.ErrNotFound) {
		st, err = engine.CreateStore(name)
	}
	if err != nil {
		return err
	}

	ds, ok := st.(*store.DiskStore)
	if !ok {
		return fmt.Errorf("store %q is not disk backed", name)
	}
	return fn(ds)
}

func printStats(w io.Writer, st store.Stats) error {
	if _, err := fmt.Fprintf(w, "store:           %s\nmemtable bytes:  %d\nmemtable keys:   %d\nindex ratio:     %g\nnext generation: %d\n",
		st.Name, st.MemtableBytes, st.MemtableKeys, st.IndexRatio, st.NextGeneration); err != nil {
		return err
	}
	for _, g := range st.Generations {
		if _, err := fmt.Fprintf(w, "generation %d: %d records, %d bytes, stride %d\n",
			g.ID, g.Records, g.Size, g.Stride); err != nil {
			return err
		}
	}
	return nil
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
