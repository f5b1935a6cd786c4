package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/importer"
	"github.com/orneryd/bundledb/pkg/persistence"
	"github.com/orneryd/bundledb/pkg/storage"
)

// mutate runs fn against a persister inside one transaction and prints the
// resulting mutation.
func mutate(cmd *cobra.Command, args []string, fn func(p *persistence.Persister, b bundle.Bundle) (persistence.Mutation[bundle.Bundle], error)) (err error) {
	b, err := readBundle(cmd, args)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.finish(&err)

	var m persistence.Mutation[bundle.Bundle]
	err = persistence.RunInTransaction(cmd.Context(), e.store, func(tx storage.Tx) error {
		var err error
		m, err = fn(e.persister(tx), b)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", m.State(), m.Entity().ID())
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	scope, _ := cmd.Flags().GetStringSlice("scope")
	return mutate(cmd, args, func(p *persistence.Persister, b bundle.Bundle) (persistence.Mutation[bundle.Bundle], error) {
		return p.Create(b, scope)
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return mutate(cmd, args, func(p *persistence.Persister, b bundle.Bundle) (persistence.Mutation[bundle.Bundle], error) {
		return p.Update(b)
	})
}

func runUpsert(cmd *cobra.Command, args []string) error {
	scope, _ := cmd.Flags().GetStringSlice("scope")
	return mutate(cmd, args, func(p *persistence.Persister, b bundle.Bundle) (persistence.Mutation[bundle.Bundle], error) {
		return p.CreateOrUpdate(b, scope)
	})
}

func runDelete(cmd *cobra.Command, args []string) (err error) {
	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.finish(&err)

	var n int
	err = persistence.RunInTransaction(cmd.Context(), e.store, func(tx storage.Tx) error {
		var err error
		n, err = e.persister(tx).DeleteByID(args[0])
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d item(s)\n", n)
	return nil
}

func runGet(cmd *cobra.Command, args []string) (err error) {
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "xml" {
		return fmt.Errorf("unknown format %q", format)
	}
	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.finish(&err)

	var b bundle.Bundle
	err = persistence.RunInTransaction(cmd.Context(), e.store, func(tx storage.Tx) error {
		var err error
		b, err = e.persister(tx).Load(args[0])
		return err
	})
	if err != nil {
		return err
	}

	var out []byte
	if format == "xml" {
		out, err = bundle.ToXML(b)
	} else {
		out, err = bundle.ToJSONIndent(b)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runList(cmd *cobra.Command, args []string) (err error) {
	typ, err := entity.Parse(args[0])
	if err != nil {
		return err
	}
	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.finish(&err)

	var ids []storage.NodeID
	err = persistence.RunInTransaction(cmd.Context(), e.store, func(tx storage.Tx) error {
		var err error
		ids, err = tx.NodesByLabel(string(typ))
		return err
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) (err error) {
	scopeID, _ := cmd.Flags().GetString("scope-id")
	tolerant, _ := cmd.Flags().GetBool("tolerant")

	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.finish(&err)

	r, closeFn, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer closeFn()

	m := importer.NewManager(e.store, scopeID,
		importer.WithLogger(e.log),
		importer.WithGenerator(e.gen),
		importer.WithMetrics(e.metrics),
		importer.Tolerant(tolerant || e.cfg.Import.Tolerant),
		importer.OnError(func(item bundle.Bundle, err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", item.Type(), err)
		}),
	)
	ilog, err := m.ImportStream(cmd.Context(), r)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ilog)
	return nil
}

func runID(cmd *cobra.Command, args []string) (err error) {
	scope, _ := cmd.Flags().GetStringSlice("scope")
	b, err := readBundle(cmd, args)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.finish(&err)

	identified, err := b.GenerateIDsWith(e.gen, scope)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), identified.ID())
	var dependents []string
	identified.RelationMap().Each(func(label string, child bundle.Bundle) {
		if identified.IsDependent(label) {
			dependents = append(dependents, fmt.Sprintf("  %s: %s", label, child.ID()))
		}
	})
	if len(dependents) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(dependents, "\n"))
	}
	return nil
}
