package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/worldlens/worldlens/internal/catalog"
	"github.com/worldlens/worldlens/internal/folder"
	"github.com/worldlens/worldlens/internal/keys"
	"github.com/worldlens/worldlens/internal/kvstore"
	"github.com/worldlens/worldlens/internal/server"
	"github.com/worldlens/worldlens/internal/worlddb"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Discover save resources below a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScan,
	}
	cmd.Flags().BoolP("recursive", "r", true, "Scan subfolders")
	cmd.Flags().Bool("json", false, "Print the tree as JSON")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	path := a.cfg.Root
	if len(args) == 1 {
		path = args[0]
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	opts := a.folderOptions()
	res, err := folder.OpenPath(ctx, path, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	return folder.Match(res,
		func(l folder.Leaf) error {
			if asJSON {
				return writeJSON(out, map[string]interface{}{
					"path":        l.Path(),
					"format":      l.Format(),
					"size":        l.Size(),
					"description": l.Describe(),
				})
			}
			fmt.Fprintln(out, l.Describe())
			return nil
		},
		func(f *folder.Folder) error {
			defer f.Close()
			// without --recursive only the top level is scanned
			scan := f.ScanAll
			if !a.cfg.Recursive {
				scan = f.Scan
			}
			if err := scan(ctx); err != nil {
				return err
			}
			tree := server.BuildTree(f)
			if asJSON {
				return writeJSON(out, tree)
			}
			printTree(out, tree, "")
			files, stores, failed := tree.Count()
			fmt.Fprintf(out, "\n%d files, %d stores, %d failed\n", files, stores, failed)
			return nil
		},
		func(s folder.Store) error {
			defer s.Close()
			ks, err := s.Keys(ctx)
			if err != nil {
				return err
			}
			counts := make(map[keys.Kind]int)
			for _, k := range ks {
				counts[k.Kind()]++
			}
			if asJSON {
				byName := make(map[string]int, len(counts))
				for kind, n := range counts {
					byName[kind.String()] = n
				}
				return writeJSON(out, map[string]interface{}{
					"path":       s.Path(),
					"level_name": s.LevelName(),
					"engine":     s.Engine(),
					"key_count":  len(ks),
					"kinds":      byName,
				})
			}
			fmt.Fprintf(out, "%s [%s]\n", s.Description(), s.Engine())
			for _, kind := range keys.Kinds() {
				if n := counts[kind]; n > 0 {
					fmt.Fprintf(out, "  %-13s %d\n", kind, n)
				}
			}
			return nil
		},
	)
}

func printTree(w io.Writer, n *server.Node, indent string) {
	fmt.Fprintf(w, "%s%s/ (%s)\n", indent, n.Name, n.State)
	indent += "  "
	for _, sub := range n.Subfolders {
		printTree(w, sub, indent)
	}
	for _, s := range n.Stores {
		fmt.Fprintf(w, "%sstore  %s [%s] %s\n", indent, filepath.Base(s.Path), s.Engine, s.LevelName)
	}
	for _, f := range n.Files {
		fmt.Fprintf(w, "%sfile   %s\n", indent, f.Description)
	}
	for _, f := range append(n.FailedStores, n.FailedFiles...) {
		fmt.Fprintf(w, "%sfailed %s: %s\n", indent, filepath.Base(f.Path), f.Error)
	}
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys <db>",
		Short: "List the classified keys of a world database",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeys,
	}
	cmd.Flags().String("kind", "", "Only list keys of this kind (named, chunk, actor, actor_digest, village, unknown)")
	cmd.Flags().Bool("values", false, "Read values and print their sizes")
	cmd.Flags().Int("extract", -1, "Write the value of the key at this index to --out")
	cmd.Flags().String("out", "", "Output file for --extract")
	return cmd
}

func runKeys(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	kind, _ := cmd.Flags().GetString("kind")
	withValues, _ := cmd.Flags().GetBool("values")
	extract, _ := cmd.Flags().GetInt("extract")
	outPath, _ := cmd.Flags().GetString("out")

	var filter *keys.Kind
	if kind != "" {
		k, err := keys.ParseKind(kind)
		if err != nil {
			return err
		}
		filter = &k
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	store, err := worlddb.Open(ctx, args[0], a.storeOptions())
	if err != nil {
		return err
	}
	defer store.Close()

	ks, err := store.Keys(ctx)
	if err != nil {
		return err
	}

	if extract >= 0 {
		if extract >= len(ks) {
			return fmt.Errorf("key index %d out of range (%d keys)", extract, len(ks))
		}
		if outPath == "" {
			return errors.New("--extract requires --out")
		}
		if err := ks[extract].SaveAs(ctx, outPath); err != nil {
			return err
		}
		a.logger.WithFields(logrus.Fields{
			"key":  ks[extract].Label(),
			"file": outPath,
		}).Info("Value extracted")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for i, k := range ks {
		if filter != nil && k.Kind() != *filter {
			continue
		}
		if withValues {
			v, err := k.Value(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i, k.Kind(), k.Label(), len(v))
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i, k.Kind(), k.Label())
	}
	return tw.Flush()
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <db>",
		Short: "Record the classified keys of a world database in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	cmd.Flags().Bool("values", false, "Record value sizes")
	return cmd
}

func openCatalog(a *app) (*catalog.SQLiteCatalog, error) {
	if a.cfg.Catalog.Path == "" {
		return nil, errors.New("no catalog configured (use --catalog)")
	}
	return catalog.NewSQLiteCatalog(a.cfg.Catalog.Path, a.logger)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	withValues, _ := cmd.Flags().GetBool("values")

	cat, err := openCatalog(a)
	if err != nil {
		return err
	}
	defer cat.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	store, err := worlddb.Open(ctx, args[0], a.storeOptions())
	if err != nil {
		return err
	}
	defer store.Close()

	export, err := cat.Export(ctx, store, catalog.ExportOptions{WithValueSizes: withValues})
	if err != nil {
		return err
	}
	summary, err := cat.Summary(ctx, export.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\t%s\t%d keys\n", export.ID, export.LevelName, export.KeyCount)
	for _, kind := range keys.Kinds() {
		if n := summary[kind.String()]; n > 0 {
			fmt.Fprintf(out, "  %-13s %d\n", kind, n)
		}
	}
	return nil
}

func newExportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exports",
		Short: "List the exports recorded in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			cat, err := openCatalog(a)
			if err != nil {
				return err
			}
			defer cat.Close()

			exports, err := cat.Exports(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range exports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.LevelName, e.Engine, e.KeyCount, e.StorePath)
			}
			return tw.Flush()
		},
	}
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search the catalog",
		Args:  cobra.NoArgs,
		RunE:  runQuery,
	}
	cmd.Flags().String("export", "", "Export id")
	cmd.Flags().String("store", "", "Store path")
	cmd.Flags().String("kind", "", "Key kind")
	cmd.Flags().String("subtype", "", "Chunk or village subtype")
	cmd.Flags().Int64("dimension", 0, "Dimension id")
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("page-size", 100, "Entries per page")
	cmd.Flags().Bool("json", false, "Print entries as JSON")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cat, err := openCatalog(a)
	if err != nil {
		return err
	}
	defer cat.Close()

	flags := cmd.Flags()
	filters := &catalog.Filters{}
	filters.ExportID, _ = flags.GetString("export")
	filters.StorePath, _ = flags.GetString("store")
	filters.Kind, _ = flags.GetString("kind")
	filters.Subtype, _ = flags.GetString("subtype")
	filters.Page, _ = flags.GetInt("page")
	filters.PageSize, _ = flags.GetInt("page-size")
	if flags.Changed("dimension") {
		dim, _ := flags.GetInt64("dimension")
		filters.Dimension = &dim
	}
	if filters.StorePath != "" {
		if abs, err := filepath.Abs(filters.StorePath); err == nil {
			filters.StorePath = abs
		}
	}

	entries, total, err := cat.Query(cmd.Context(), filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := flags.GetBool("json"); asJSON {
		return writeJSON(out, map[string]interface{}{
			"total":   total,
			"entries": entries,
		})
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Position, e.Kind, e.Label, strings.ToLower(e.KeyHex))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d entries\n", len(entries), total)
	return nil
}

func newCopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy <db> <dst>",
		Short: "Copy a world database, optionally converting its engine",
		Args:  cobra.ExactArgs(2),
		RunE:  runCopy,
	}
	cmd.Flags().String("to", "", "Destination engine (leveldb, pebble, badger); defaults to the source engine")
	return cmd
}

func runCopy(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	to, _ := cmd.Flags().GetString("to")
	switch kvstore.Engine(to) {
	case "", kvstore.EngineAuto, kvstore.EngineLevelDB, kvstore.EnginePebble, kvstore.EngineBadger:
	default:
		return fmt.Errorf("%w: %q", kvstore.ErrUnknownEngine, to)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	store, err := worlddb.Open(ctx, args[0], a.storeOptions())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveAs(ctx, args[1], kvstore.Engine(to)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "copied %s to %s\n", store.Path(), args[1])
	return nil
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep a folder tree scanned and serve it over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	cmd.Flags().BoolP("recursive", "r", true, "Scan subfolders")
	cmd.Flags().Int("debounce", 500, "Milliseconds of quiet before a rescan")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	path := a.cfg.Root
	if len(args) == 1 {
		path = args[0]
	}

	a.logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("Starting worldlens")

	opts := a.folderOptions()
	opts.Recursive = true
	root := folder.New(path, opts)
	defer root.Close()

	srv := server.New(root, server.Config{
		Listen:   a.cfg.Metrics.Listen,
		Debounce: msDuration(a.cfg.Watch.DebounceMS),
	}, a.metrics, a.logger)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("watch error: %w", err)
	}

	a.logger.Info("worldlens stopped")
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
